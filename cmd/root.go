// Package cmd builds the bindery command line: the server itself plus the
// administrative subcommands that manage users, devices, shelves and facet
// collections.
package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/binderyhq/bindery/config"
	"github.com/binderyhq/bindery/server"
)

var (
	// Version is the semantic version, overwritten at build time.
	Version string
	// Commit is the git commit, overwritten at build time.
	Commit string
)

// serveFlags collects every root flag value; only flags the user actually set
// override the configuration file.
type serveFlags struct {
	configPath string

	dataDir       string
	libraryDir    string
	catalogDB     string
	listen        string
	baseURL       string
	logLevel      string
	metrics       bool
	metricsListen string
	storeEnabled  bool
	syncPageSize  int
	syncPolicy    string
}

// GetCommand returns the bindery root command.
func GetCommand() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:           "bindery",
		Short:         "personal e-book library server with e-reader device sync",
		Version:       version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				return err
			}
			logger, err := cfg.LOGGING.Build()
			if err != nil {
				return err
			}
			defer logger.Sync()

			app, err := server.New(cfg, logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx)
		},
	}
	addFlags(cmd.PersistentFlags(), &flags)
	cmd.AddCommand(
		usersCommand(&flags),
		devicesCommand(&flags),
		shelvesCommand(&flags),
		facetsCommand(&flags),
	)
	return cmd
}

func addFlags(fs *pflag.FlagSet, flags *serveFlags) {
	def := config.DefaultConfig()
	fs.StringVarP(&flags.configPath, "config", "c", "", "load configuration from file")
	fs.StringVarP(&flags.dataDir, "data-dir", "d", def.DataDir, "directory for server-owned state")
	fs.StringVar(&flags.libraryDir, "library-dir", def.LibraryDir, "root of the content library")
	fs.StringVar(&flags.catalogDB, "catalog-db", "", "catalog database location (default: inside the library)")
	fs.StringVar(&flags.listen, "listen", def.Server.Listen, "device API listen address")
	fs.StringVar(&flags.baseURL, "base-url", def.Server.BaseURL, "absolute url devices reach this server under")
	fs.StringVar(&flags.logLevel, "log-level", def.LOGGING.Level, "log level (debug, info, warn, error)")
	fs.BoolVar(&flags.metrics, "metrics", def.CollectMetrics, "expose prometheus metrics")
	fs.StringVar(&flags.metricsListen, "metrics-listen", def.MetricsListen, "metrics listen address")
	fs.BoolVar(&flags.storeEnabled, "store-proxy", def.Store.Enabled, "merge sync rounds from the vendor store")
	fs.IntVar(&flags.syncPageSize, "sync-page-size", def.Sync.PageSize, "records per sync round unless a user overrides it")
	fs.StringVar(&flags.syncPolicy, "sync-policy", def.Sync.DefaultPolicy, "default collection-sync policy (all, selected, hybrid)")
}

// loadConfig overlays the configuration file onto the defaults, then flags
// the user explicitly set on top of both.
func loadConfig(cmd *cobra.Command, flags *serveFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := config.Load(&cfg, flags.configPath); err != nil {
		return nil, err
	}
	set := cmd.Root().PersistentFlags().Changed
	if set("data-dir") {
		cfg.DataDir = flags.dataDir
	}
	if set("library-dir") {
		cfg.LibraryDir = flags.libraryDir
	}
	if set("catalog-db") {
		cfg.CatalogDB = flags.catalogDB
	}
	if set("listen") {
		cfg.Server.Listen = flags.listen
	}
	if set("base-url") {
		cfg.Server.BaseURL = flags.baseURL
	}
	if set("log-level") {
		cfg.LOGGING.Level = flags.logLevel
	}
	if set("metrics") {
		cfg.CollectMetrics = flags.metrics
	}
	if set("metrics-listen") {
		cfg.MetricsListen = flags.metricsListen
	}
	if set("store-proxy") {
		cfg.Store.Enabled = flags.storeEnabled
	}
	if set("sync-page-size") {
		cfg.Sync.PageSize = flags.syncPageSize
	}
	if set("sync-policy") {
		cfg.Sync.DefaultPolicy = flags.syncPolicy
	}
	return &cfg, nil
}

func version() string {
	if Commit != "" {
		return fmt.Sprintf("%s+%s", Version, Commit)
	}
	return Version
}
