package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/forgo/authcode/internal/callback"
	"github.com/forgo/authcode/internal/misc"
	"github.com/forgo/authcode/internal/oauth"
	"github.com/forgo/authcode/sdk/authcode"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// manualPromptDelay is how long login waits for the browser redirect before
// offering to paste the callback URL.
const manualPromptDelay = 15 * time.Second

// LoginOptions contains options for the login process.
type LoginOptions struct {
	// Prompt allows the caller to paste the provider redirect when the callback
	// server cannot be reached from the browser.
	Prompt func(prompt string) (string, error)
}

var manualLogin bool

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "log in through the identity provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SetOut(cmd.OutOrStdout())
		opts := &LoginOptions{}
		if manualLogin {
			opts.Prompt = stdinPrompt()
		}
		err := DoLogin(cmd.Context(), cmd, opts)
		if authErr, ok := errors.AsType[*oauth.AuthenticationError](err); ok {
			log.Error(oauth.GetUserFriendlyMessage(authErr))
			if authErr.Type == oauth.ErrPortInUse.Type {
				os.Exit(oauth.ErrPortInUse.Code)
			}
		}
		return err
	},
}

func init() {
	loginCmd.Flags().BoolVar(&manualLogin, "manual", false, "offer to paste the callback URL if the browser redirect does not arrive")
}

// DoLogin runs the authorization code flow: it starts the callback server,
// sends the browser to the authorization endpoint, and waits for the redirect.
func DoLogin(ctx context.Context, cmd *cobra.Command, options *LoginOptions) error {
	if options == nil {
		options = &LoginOptions{}
	}
	client, err := newClient(ctx, authcode.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if errClose := client.Close(); errClose != nil {
			log.Warnf("session close error: %v", errClose)
		}
	}()

	if cfg.Disabled {
		cmd.Println("Authorization is disabled in the configuration")
		return nil
	}

	misc.LogCredentialSeparator()
	server := callback.NewServer(cfg.Callback.Port, cfg.Provider.RedirectURL, client.Resume)
	if err = server.Start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if stopErr := server.Stop(stopCtx); stopErr != nil {
			log.Warnf("callback server stop error: %v", stopErr)
		}
	}()

	state, err := client.Start(ctx)
	if err != nil {
		return err
	}
	if state == authcode.StateAuthenticated {
		cmd.Printf("Already logged in as %s\n", displayName(client.State()))
		return nil
	}

	cmd.Println("Waiting for authentication callback...")
	result, err := waitForLogin(ctx, server, client, options)
	if err != nil {
		return err
	}
	if result.Err != nil {
		return result.Err
	}
	cmd.Printf("Logged in as %s\n", displayName(client.State()))
	if result.Route != "" && result.Route != "/" {
		cmd.Printf("Resumed at %s\n", result.Route)
	}
	return nil
}

func waitForLogin(ctx context.Context, server *callback.Server, client *authcode.Client, options *LoginOptions) (*callback.Result, error) {
	callbackCh := make(chan *callback.Result, 1)
	callbackErrCh := make(chan error, 1)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		result, errWait := server.WaitForCallback(waitCtx, cfg.Callback.Timeout)
		if errWait != nil {
			callbackErrCh <- errWait
			return
		}
		callbackCh <- result
	}()

	var manualPromptC <-chan time.Time
	if options.Prompt != nil {
		manualPromptTimer := time.NewTimer(manualPromptDelay)
		manualPromptC = manualPromptTimer.C
		defer manualPromptTimer.Stop()
	}

	for {
		select {
		case result := <-callbackCh:
			return result, nil
		case err := <-callbackErrCh:
			return nil, err
		case <-manualPromptC:
			manualPromptC = nil
			select {
			case result := <-callbackCh:
				return result, nil
			case err := <-callbackErrCh:
				return nil, err
			default:
			}
			input, errPrompt := options.Prompt("Paste the callback URL (or press Enter to keep waiting): ")
			if errPrompt != nil {
				return nil, errPrompt
			}
			if input == "" {
				continue
			}
			location, errParse := misc.CallbackURL(cfg.Origin, cfg.Provider.RedirectURL, input)
			if errParse != nil {
				return nil, errParse
			}
			state, errResume := client.Resume(ctx, location.RequestURI())
			return &callback.Result{State: state, Err: errResume}, nil
		}
	}
}

func displayName(state authcode.SessionState) string {
	if name := state.Claims.DisplayName(); name != "" {
		return name
	}
	return "unknown user"
}
