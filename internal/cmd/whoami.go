package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/forgo/authcode/sdk/authcode"
	"github.com/spf13/cobra"
)

var (
	whoamiUserInfo     bool
	whoamiUserInfoPath string
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "print the identity claims of the stored session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SetOut(cmd.OutOrStdout())

		opts := authcode.Options{DisableWatch: true}
		if whoamiUserInfo {
			opts.UserLoader = authcode.UserInfoLoader(whoamiUserInfoPath)
		}
		client, err := newClient(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		state := client.Hydrate(cmd.Context())
		if !state.LoggedIn {
			return fmt.Errorf("not logged in; run \"authcode login\"")
		}

		out := map[string]any{}
		if state.Claims != nil {
			out["claims"] = state.Claims.Raw
		}
		if state.User != nil {
			out["user"] = state.User
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	},
}

func init() {
	whoamiCmd.Flags().BoolVar(&whoamiUserInfo, "userinfo", false, "also fetch the OIDC userinfo document")
	whoamiCmd.Flags().StringVar(&whoamiUserInfoPath, "userinfo-path", authcode.DefaultUserInfoPath, "userinfo path relative to the provider base URL")
}
