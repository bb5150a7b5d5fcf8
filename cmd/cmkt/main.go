package main

import (
	"fmt"
	"os"

	"github.com/computemarket/cmkt/internal/auth"
	"github.com/computemarket/cmkt/internal/config"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cmkt",
	Short: "cmkt - compute market escrow",
	Long: `cmkt runs and drives a compute market: services are registered by a single
authority, buyers pay into escrow to create tasks, and escrowed funds are
released to the authority on completion or returned to the buyer on refund.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return resolveClient()
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	actingAs   string
	configPath string

	// token is the bearer token from stored credentials, if any.
	token string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "API server address (default from credentials or config)")
	rootCmd.PersistentFlags().StringVar(&actingAs, "as", "", "Principal to act as when the daemon trusts the principal header")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(authorityCmd)
	rootCmd.AddCommand(escrowCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

// resolveClient fills apiAddr, actingAs and token. Flags win over stored
// credentials, which win over the config file.
func resolveClient() error {
	var creds *auth.Credentials
	if m, err := auth.NewManager(config.HomeDir()); err == nil && m.IsAuthenticated() {
		creds = m.Credentials()
	}

	if apiAddr == "" && creds != nil && creds.APIURL != "" {
		apiAddr = creds.APIURL
	}
	if apiAddr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		apiAddr = cfg.APIURL
	}

	if creds != nil && (actingAs == "" || actingAs == creds.Principal) {
		actingAs = creds.Principal
		token = creds.Token
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("cmkt", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon health and the escrow invariant",
	RunE: func(cmd *cobra.Command, args []string) error {
		health, err := CheckHealth()
		if health == nil {
			return err
		}
		fmt.Printf("API:      %s\n", apiAddr)
		fmt.Printf("Version:  %s\n", health.Version)
		fmt.Printf("Database: %s\n", health.DB)
		if health.Invariant != nil {
			fmt.Printf("Escrow:   %s\n", health.Invariant.String())
		}
		return err
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
