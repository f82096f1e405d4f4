package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"apimon/internal/config"
	"apimon/internal/logging"
)

var version = "dev"

var (
	// Global flags
	verbose bool

	cfg        config.Config
	logger     *zap.Logger
	logCleanup func() error
)

var rootCmd = &cobra.Command{
	Use:   "apimon",
	Short: "Capture and inspect HTTP API traffic through a local proxy",
	Long: `apimon runs a forwarding proxy that records the last requests it relays
and serves a monitor page to filter, inspect, copy and export them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		logger, logCleanup, err = logging.New(logging.Config{
			Level:      cfg.LogLevel,
			FilePath:   cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAgeDays: cfg.LogMaxAgeDays,
			Compress:   cfg.LogCompress,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			_ = logCleanup()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	serveCmd.Flags().String("proxy-addr", "", "Proxy listen address (default from config)")
	serveCmd.Flags().String("ui-addr", "", "Monitor UI listen address (default from config)")
	serveCmd.Flags().Bool("mitm", false, "Decrypt HTTPS traffic with the goproxy CA")
	serveCmd.Flags().Bool("reset-session", false, "Discard the persisted session before starting")

	openCmd.Flags().String("server", "", "Base URL of a running apimon UI")
	exportCmd.Flags().String("server", "", "Base URL of a running apimon UI")
	exportCmd.Flags().StringP("out", "o", "", "Directory to write the export into (default from config)")
	exportCmd.Flags().String("jq", "", "jq program applied to the entry list before writing")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// baseURL turns a listen address into the URL a local browser uses.
func baseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func serverURL(cmd *cobra.Command) string {
	if s, _ := cmd.Flags().GetString("server"); s != "" {
		return s
	}
	return baseURL(cfg.UIAddr)
}
