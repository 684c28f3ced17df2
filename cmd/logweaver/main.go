package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/0tSystemsPublicRepos/logweaver/internal/config"
	"github.com/0tSystemsPublicRepos/logweaver/internal/profile"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	gopsAddr   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "logweaver",
		Short: "LogWeaver - multi-port TCP honeypot",
		Long: `LogWeaver listens on several TCP ports, impersonates simple network
services and records every connection, payload and disconnect to one
append-only event log.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search common locations)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start every configured honeypot listener",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&gopsAddr, "gops", "", "start a gops diagnostics agent on this address (e.g. 127.0.0.1:6060)")

	servicesCmd := &cobra.Command{
		Use:   "services",
		Short: "Show the effective service table",
		Args:  cobra.NoArgs,
		RunE:  listServices,
	}

	// Event store commands
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Query the event store",
	}
	listCmd := &cobra.Command{Use: "list", Short: "List recent events", Args: cobra.NoArgs, RunE: listEvents}
	listCmd.Flags().StringVar(&eventFlags.kind, "kind", "", "only events of this kind (e.g. NEW_CONNECTION)")
	listCmd.Flags().StringVar(&eventFlags.service, "service", "", "only events of this service")
	listCmd.Flags().StringVar(&eventFlags.peer, "peer", "", "only events of this peer (ip:port)")
	listCmd.Flags().DurationVar(&eventFlags.since, "since", 0, "only events newer than this (e.g. 1h)")
	listCmd.Flags().IntVar(&eventFlags.limit, "limit", 50, "maximum number of events")
	eventsCmd.AddCommand(
		listCmd,
		&cobra.Command{Use: "stats", Short: "Show event statistics", Args: cobra.NoArgs, RunE: eventStats},
	)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("logweaver %s\n", version)
		},
	}

	rootCmd.AddCommand(serveCmd, servicesCmd, eventsCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates the config and builds the profiles.
func loadConfig() (*config.Config, []*profile.Profile, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	profiles, err := profile.Load(cfg.Services)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, profiles, nil
}
