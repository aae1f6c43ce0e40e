// Package cmd implements the authcode command line: logging in through the
// browser, inspecting the stored session, and calling protected APIs with it.
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgo/authcode/internal/config"
	"github.com/forgo/authcode/internal/logging"
	"github.com/forgo/authcode/sdk/authcode"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
	noBrowser  bool

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "authcode",
		Short: "OAuth2 authorization code + PKCE session manager",
		Long: `authcode logs in to an OpenID Connect provider with the authorization code
flow and PKCE, keeps the resulting tokens in the configured storage, and
authenticates API calls with them, refreshing once when a call comes back 401.

Configuration is read from a YAML file (--config), then AUTHCODE_* environment
variables. A .env file in the working directory is loaded first.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initializeConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noBrowser, "no-browser", false, "print provider URLs instead of opening a browser")

	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd, whoamiCmd, callCmd, versionCmd)
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// initializeConfig loads .env, the configuration, and initializes logging.
func initializeConfig(cmd *cobra.Command, _ []string) error {
	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, fs.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	loaded, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		loaded.Logging.Debug = true
	}
	if cmd.Flags().Changed("no-browser") {
		loaded.NoBrowser = noBrowser
	}
	// Each command is a separate process; memory storage would forget the
	// session between them.
	for _, b := range []struct {
		name    string
		backend *config.BackendConfig
	}{
		{"session", &loaded.Storage.Session},
		{"persistent", &loaded.Storage.Persistent},
	} {
		if b.backend.Type == config.BackendMemory {
			log.Debugf("storage.%s: using file storage instead of memory", b.name)
			b.backend.Type = config.BackendFile
		}
	}
	if err = logging.ConfigureLogOutput(loaded); err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func newClient(ctx context.Context, opts authcode.Options) (*authcode.Client, error) {
	client, err := authcode.New(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initialize session: %w", err)
	}
	return client, nil
}

func stdinPrompt() func(prompt string) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	return func(prompt string) (string, error) {
		fmt.Print(prompt)
		value, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(value), nil
	}
}
