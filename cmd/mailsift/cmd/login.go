package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var loginHeadless bool

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize Gmail access via OAuth",
	Long: `Authorize mailsift to access your Gmail account.

Opens a browser for the Google consent flow and stores the resulting
token next to the database. Use --headless on machines without a
browser; you'll get a code to enter on another device.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfg.Gmail.CredentialsPath); err != nil {
			return errOAuthNotConfigured()
		}

		oauthMgr, err := newOAuthManager()
		if err != nil {
			return err
		}

		if oauthMgr.HasToken() {
			fmt.Println("A token already exists. Re-authorizing replaces it.")
		}

		if err := oauthMgr.Authorize(cmd.Context(), loginHeadless); err != nil {
			return fmt.Errorf("authorize: %w", err)
		}

		fmt.Printf("Token saved to %s\n", oauthMgr.TokenPath())
		fmt.Println()
		fmt.Println("Next: sync your mailbox with 'mailsift sync-full'")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the stored Gmail token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		oauthMgr, err := newOAuthManager()
		if err != nil {
			return err
		}
		if err := oauthMgr.DeleteToken(); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		fmt.Println("Token deleted.")
		return nil
	},
}

func init() {
	loginCmd.Flags().BoolVar(&loginHeadless, "headless", false, "use device code flow (no browser)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
