package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/computemarket/cmkt/internal/auth"
	"github.com/computemarket/cmkt/internal/config"
	"github.com/computemarket/cmkt/internal/market"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save the principal (and token) later commands act as",
	Long: `Saves credentials under ~/.cmkt. With --token the bearer token is stored as
given. Without it, a token is issued from the configured jwt secret when one
is set; otherwise only the principal is saved and sent as a header.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget saved credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := auth.NewManager(config.HomeDir())
		if err != nil {
			return err
		}
		if err := m.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the acting principal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if actingAs == "" {
			fmt.Println("Not logged in. Use 'cmkt login --as <principal>'.")
			return nil
		}
		mode := "principal header"
		if token != "" {
			mode = "bearer token"
		}
		fmt.Printf("%s (%s, %s)\n", actingAs, mode, apiAddr)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue [principal]",
	Short: "Issue a bearer token from the configured jwt secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		signed, expires, err := issueToken(args[0])
		if err != nil {
			return err
		}
		fmt.Println(signed)
		fmt.Printf("expires %s\n", expires.Local().Format(timeLayout))
		return nil
	},
}

var loginToken string

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "Bearer token to store")
	tokenCmd.AddCommand(tokenIssueCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	principal := market.NormalizePrincipal(actingAs)
	if principal == "" {
		return fmt.Errorf("--as is required")
	}

	var expires time.Time
	signed := loginToken
	if signed == "" {
		var err error
		signed, expires, err = issueToken(principal)
		if err != nil && !errors.Is(err, errNoSecret) {
			return err
		}
	}

	m, err := auth.NewManager(config.HomeDir())
	if err != nil {
		return err
	}
	if err := m.Login(principal, signed, apiAddr, expires); err != nil {
		return err
	}

	if signed == "" {
		fmt.Printf("Acting as %s via the principal header\n", principal)
	} else {
		fmt.Printf("Acting as %s with a bearer token\n", principal)
	}
	return nil
}

var errNoSecret = fmt.Errorf("no jwt secret configured (set auth.jwt_secret or %s)", config.EnvJWTSecret)

// issueToken signs a token locally with the configured secret.
func issueToken(principal string) (string, time.Time, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", time.Time{}, err
	}
	if cfg.Auth.JWTSecret == "" {
		return "", time.Time{}, errNoSecret
	}
	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokens.Issue(market.NormalizePrincipal(principal))
}
