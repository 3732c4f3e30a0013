// Package cmd implements loginctl, a command line host for the login SDK.
// Tokens live in a sealed SQLite file and the browser redirect lands on a
// loopback listener.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/aussiebroadwan/loginkit/pkg/auth"
	"github.com/aussiebroadwan/loginkit/pkg/config"
	"github.com/aussiebroadwan/loginkit/pkg/loopback"
	"github.com/aussiebroadwan/loginkit/pkg/session"
	"github.com/aussiebroadwan/loginkit/pkg/slogx"
	"github.com/aussiebroadwan/loginkit/pkg/storage"
	"github.com/aussiebroadwan/loginkit/pkg/storage/drivers/sqlite"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	configFile string
	dbPath     string
	envFiles   []string
	listen     string
	verbose    bool
	opener     loopback.Opener

	logger *slog.Logger
	cfg    *config.Config
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd(&rootOptions{opener: openBrowser}).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(o *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "loginctl",
		Short:         "Sign in to the hosted login from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.setup()
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&o.configFile, "config-file", "f", "loginkit.yaml", "config file, falls back to LOGINKIT_* variables when missing")
	flags.StringVar(&o.dbPath, "db", "~/.loginkit/tokens.db", "token database")
	flags.StringSliceVar(&o.envFiles, "env-file", []string{".env"}, "dotenv files to load")
	flags.StringVar(&o.listen, "listen", loopback.DefaultAddr, "loopback address for the login redirect")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newLoginCmd(o),
		newLogoutCmd(o),
		newWhoamiCmd(o),
		newRefreshCmd(o),
		newRegionsCmd(o),
		newSelectRegionCmd(o),
		newVersionCmd(),
	)
	return root
}

func (o *rootOptions) setup() error {
	for _, file := range o.envFiles {
		err := godotenv.Load(expandHome(file))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	o.cfg = cfg

	level := cfg.Log.Level
	if o.verbose {
		level = "debug"
	}
	format := cfg.Log.Format
	if format == "" {
		format = "text"
	}
	o.logger = slogx.New(slogx.Config{
		Service: "loginctl",
		Version: version,
		Env:     cfg.Log.Env,
		Level:   level,
		Format:  format,
	})
	return nil
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := expandHome(o.configFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return config.FromEnv()
	}
	return config.Load(path)
}

// cliSession bundles a started Manager with the resources behind it.
type cliSession struct {
	mgr   *auth.Manager
	store *sqlite.Store
	lb    *loopback.Server
}

func (s *cliSession) Close() {
	s.mgr.Close()
	s.closeResources()
}

// open starts a Manager on the token database. withBrowser adds the
// loopback presenter needed by interactive logins.
func (o *rootOptions) open(ctx context.Context, withBrowser bool) (*cliSession, error) {
	path := expandHome(o.dbPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create token directory: %w", err)
	}

	store, err := sqlite.Open(ctx, path, sqlite.Config{
		Service:    o.cfg.KeychainService,
		Passphrase: os.Getenv("LOGINKIT_PASSPHRASE"),
	})
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	s := &cliSession{store: store}

	cfg := *o.cfg
	opts := auth.Options{
		Config:     &cfg,
		Storage:    store,
		SiteData:   storage.NewMemorySiteData(),
		Logger:     o.logger,
		Dispatcher: session.Inline(),
	}

	if withBrowser {
		lb, err := loopback.Listen(o.listen,
			loopback.WithOpener(o.opener),
			loopback.WithLogger(o.logger),
		)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		s.lb = lb
		if cfg.RedirectURI == "" {
			cfg.RedirectURI = lb.RedirectURI()
		}
		opts.Presenter = lb
	}

	// Every command works on the restored session.
	cfg.LateInit = false
	mgr, err := auth.Open(ctx, opts)
	if err != nil {
		s.closeResources()
		return nil, err
	}
	s.mgr = mgr
	return s, nil
}

func (s *cliSession) closeResources() {
	if s.lb != nil {
		_ = s.lb.Close()
	}
	_ = s.store.Close()
}

// expandHome expands a leading ~ to the home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = strings.Replace(path, "~", home, 1)
	}
	return path
}
