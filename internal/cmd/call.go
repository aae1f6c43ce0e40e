package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/forgo/authcode/internal/apis"
	"github.com/forgo/authcode/sdk/authcode"
	"github.com/spf13/cobra"
)

var (
	callBaseURL string
	callData    string
)

var callCmd = &cobra.Command{
	Use:   "call [METHOD] PATH",
	Short: "call a protected API with the stored session",
	Long: `call sends a request to --base-url + PATH with the stored access token. A 401
response triggers one token refresh and one replay of the request. METHOD
defaults to GET, or POST when --data is given.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SetOut(cmd.OutOrStdout())

		method, path := callTarget(args)
		if strings.TrimSpace(callBaseURL) == "" {
			return fmt.Errorf("--base-url is required")
		}

		client, err := newClient(cmd.Context(), authcode.Options{DisableWatch: true})
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		api, err := client.API(callBaseURL)
		if err != nil {
			return err
		}
		var body any
		if callData != "" {
			if !json.Valid([]byte(callData)) {
				return fmt.Errorf("--data must be valid JSON")
			}
			body = json.RawMessage(callData)
		}
		req, err := api.NewRequest(cmd.Context(), method, path, body)
		if err != nil {
			return err
		}
		resp, err := api.Do(req)
		if err != nil {
			if statusErr, ok := errors.AsType[*apis.StatusError](err); ok {
				return fmt.Errorf("%s %s: %d %s", method, path, statusErr.StatusCode, statusErr.Message())
			}
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
		return err
	},
}

func init() {
	callCmd.Flags().StringVar(&callBaseURL, "base-url", "", "API base URL")
	callCmd.Flags().StringVarP(&callData, "data", "d", "", "JSON request body")
}

func callTarget(args []string) (method, path string) {
	if len(args) == 2 {
		return strings.ToUpper(args[0]), args[1]
	}
	if callData != "" {
		return http.MethodPost, args[0]
	}
	return http.MethodGet, args[0]
}
