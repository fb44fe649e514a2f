package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ivr-tester/internal/auth"
	"ivr-tester/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator token for the manual call trigger",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		subject, _ := cmd.Flags().GetString("subject")

		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("API_JWT_SECRET is not set; /api/call is open and needs no token")
		}
		mgr, err := auth.NewManager(cfg.Auth)
		if err != nil {
			return err
		}
		tok, err := mgr.Issue(time.Now(), subject)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("subject", "operator", "Who the token is issued to")
}
