package cmd

import (
	"github.com/forgo/authcode/sdk/authcode"
	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "clear the stored session and sign out at the identity provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SetOut(cmd.OutOrStdout())

		client, err := newClient(cmd.Context(), authcode.Options{DisableWatch: true})
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		if err = client.Logout(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("Logged out")
		return nil
	},
}
