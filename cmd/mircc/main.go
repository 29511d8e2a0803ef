// MIR Control Center
//
// mircc downloads, caches and supervises MIR node clients. It runs either as
// a long-lived service ("serve") exposing a local REST/WebSocket API and an
// optional MQTT bridge, or as a one-shot tool ("releases", "run", "exec").
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/MIRChain/mir-control-center/migrations"

	"github.com/MIRChain/mir-control-center/internal/audit"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/config"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/database"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/logging"
	"github.com/MIRChain/mir-control-center/internal/plugin"
	"github.com/MIRChain/mir-control-center/internal/preferences"
	"github.com/MIRChain/mir-control-center/internal/prompt"
	"github.com/MIRChain/mir-control-center/internal/release"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on Ctrl+C or SIGTERM so running plugins are stopped cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "mircc",
		Short: "MIR Control Center - node client manager",
		Long: `mircc manages MIR node clients: it lists and downloads releases, keeps
them in a local cache, starts and stops the node process, and relays its
JSON-RPC interface and events to local applications.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", getConfigPath(),
		"path to config.yaml (env MIRCC_CONFIG)")

	cmd.AddCommand(
		newServeCommand(opts),
		newReleasesCommand(opts),
		newRunCommand(opts),
		newExecCommand(opts),
	)
	return cmd
}

// getConfigPath returns the configuration file path.
// Uses MIRCC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MIRCC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads path. A missing file at the default location falls back
// to built-in defaults so the one-shot commands work without setup.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
		if vErr := cfg.Validate(); vErr != nil {
			return nil, fmt.Errorf("validating default config: %w", vErr)
		}
		return cfg, nil
	}
	return nil, fmt.Errorf("loading config: %w", err)
}

// env is the shared state of a command invocation: configuration, logger,
// the preferences/audit database and the plugin registry.
type env struct {
	cfg      *config.Config
	log      *logging.Logger
	db       *database.DB
	registry *plugin.Registry
}

// openEnv loads config, opens and migrates the database and registers the
// descriptor directory. Logs go to logOut; source tags audit entries.
func openEnv(ctx context.Context, opts *rootOptions, logOut io.Writer, source string, prompter prompt.Prompter) (*env, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	log := logging.NewWithWriter(cfg.Logging, version, logOut)

	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Debug("database ready", "path", cfg.Database.Path)

	if prompter == nil {
		prompter = defaultPrompter(cfg)
	}
	registry := newRegistry(cfg, db, prompter, log, source)
	n, err := registry.LoadDir(cfg.Plugins.DescriptorDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("loading plugin descriptors: %w", err)
	}
	log.Info("plugins loaded", "dir", cfg.Plugins.DescriptorDir, "count", n)

	return &env{cfg: cfg, log: log, db: db, registry: registry}, nil
}

// close stops every running plugin and closes the database.
func (e *env) close(ctx context.Context) {
	if err := e.registry.StopAll(ctx); err != nil {
		e.log.Error("error stopping plugins", "error", err)
	}
	if err := e.db.Close(); err != nil {
		e.log.Error("error closing database", "error", err)
	}
}

// newRegistry builds the plugin registry with persistent release selection
// and an audit trail backed by db.
func newRegistry(cfg *config.Config, db *database.DB, prompter prompt.Prompter, log *logging.Logger, source string) *plugin.Registry {
	var gh []release.GitHubOption
	if cfg.Plugins.GitHub.APIURL != "" {
		gh = append(gh, release.WithAPIURL(cfg.Plugins.GitHub.APIURL))
	}
	if cfg.Plugins.GitHub.Token != "" {
		gh = append(gh, release.WithToken(cfg.Plugins.GitHub.Token))
	}

	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), source)
	recorder.OnError = func(err error) {
		log.Warn("audit write failed", "error", err)
	}

	return plugin.NewRegistry(plugin.Options{
		CacheRoot:   cfg.Cache.Dir,
		GitHub:      gh,
		Selected:    preferences.NewSelectedReleases(preferences.NewSQLiteStore(db.DB)),
		Prompter:    prompter,
		Audit:       recorder,
		Logger:      log.Component("plugin"),
		StopTimeout: cfg.GetStopTimeout(),
	})
}

// defaultPrompter asks on the terminal unless auto-approve is configured.
func defaultPrompter(cfg *config.Config) prompt.Prompter {
	if cfg.Plugins.AutoApprove {
		return prompt.AutoApprove{}
	}
	return prompt.Terminal{In: os.Stdin, Out: os.Stderr}
}
