package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Joseda-hg/planner/internal/blob"
	"github.com/Joseda-hg/planner/internal/config"
	"github.com/Joseda-hg/planner/internal/db"
	"github.com/Joseda-hg/planner/internal/logging"
	"github.com/Joseda-hg/planner/internal/page"
	"github.com/Joseda-hg/planner/internal/tasks"
	"github.com/Joseda-hg/planner/internal/tui"
	"github.com/Joseda-hg/planner/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// selectedPageKey keeps the CLI's page choice between invocations.
const selectedPageKey = "cli.selected_page"

type options struct {
	configPath string
	dbPath     string
	web        bool
	webOnly    bool
	port       int
	page       string
}

type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  *db.Store
	pages  *page.Registry
	tasks  *tasks.Coordinator
	blobs  *blob.Store
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "planner",
		Short:         "Terminal task planner with pages, a status board and a REST API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.webOnly {
				return runServe(cmd, opts)
			}
			return runBoard(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file path (.json, .toml, .yaml)")
	flags.StringVar(&opts.dbPath, "db", "", "sqlite db path")
	flags.BoolVar(&opts.web, "web", false, "enable web server")
	flags.BoolVar(&opts.webOnly, "web-only", false, "run web server only")
	flags.IntVar(&opts.port, "port", 0, "web server port")
	flags.StringVar(&opts.page, "page", "", "page id or name to work on")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newTaskCmd(opts))
	root.AddCommand(newPageCmd(opts))
	root.AddCommand(newStatsCmd(opts))
	return root
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API and web board only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *options) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, "")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger, opts.page)
	if err != nil {
		return err
	}
	defer a.close()

	addr := fmt.Sprintf(":%d", cfg.WebPort)
	fmt.Fprintf(cmd.OutOrStdout(), "Web server running at http://localhost%s\n", addr)
	return a.server(nil).ListenAndServe(ctx, addr)
}

// runBoard draws the terminal board, with the web server alongside it when
// enabled. Web writes reload the board.
func runBoard(cmd *cobra.Command, opts *options) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg, logger, opts.page)
	if err != nil {
		return err
	}
	defer a.close()

	changes := make(chan struct{}, 1)
	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.WebEnabled {
		server := a.server(func(ctx context.Context) {
			if selected, ok := a.pages.Selected(); ok {
				if err := a.tasks.Reload(ctx, selected.ID); err != nil {
					a.logger.Warn("reload after web change failed", zap.Error(err))
				}
			}
			select {
			case changes <- struct{}{}:
			default:
			}
		})
		addr := fmt.Sprintf(":%d", cfg.WebPort)
		group.Go(func() error {
			return server.ListenAndServe(groupCtx, addr)
		})
	}

	group.Go(func() error {
		defer cancel()
		return tui.Run(groupCtx, a.tasks, a.pages, changes)
	})

	return group.Wait()
}

func (o *options) load() (config.Config, error) {
	cfgPath, err := resolveConfigPath(o.configPath)
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, err
	}

	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(cfgPath), "planner.db")
	}
	if o.web {
		cfg.WebEnabled = true
	}
	if o.port != 0 {
		cfg.WebPort = o.port
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return config.Config{}, err
	}

	cfg = cfg.WithDefaults()
	for _, path := range []string{cfg.DBPath, cfg.LogPath} {
		if err := config.EnsureDir(path); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	return config.DefaultConfigPath()
}

// openApp opens the store, loads the pages, restores the page choice and
// fills the coordinator cache.
func openApp(ctx context.Context, cfg config.Config, logger *zap.Logger, pageRef string) (*app, error) {
	store := db.NewStore(cfg.DBPath, db.WithLogger(logger.Named("db")))
	if err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := page.NewRegistry(store, page.WithLogger(logger.Named("pages")))
	if err := registry.Load(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := restoreSelection(ctx, store, registry, pageRef); err != nil {
		_ = store.Close()
		return nil, err
	}

	coordinator := tasks.New(store, registry,
		tasks.WithLogger(logger.Named("tasks")),
		tasks.WithCascadePageDelete(cfg.CascadePageDelete),
	)
	if err := coordinator.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		pages:  registry,
		tasks:  coordinator,
		blobs:  blob.NewStore(cfg.UploadsDir, blob.WithLogger(logger.Named("blob"))),
	}, nil
}

// restoreSelection selects ref, or the page saved by "page select" when ref
// is empty. A saved page that no longer exists is ignored.
func restoreSelection(ctx context.Context, store *db.Store, registry *page.Registry, ref string) error {
	explicit := ref != ""
	if !explicit {
		raw, ok, err := store.GetValue(ctx, selectedPageKey)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		ref = string(raw)
	}

	found, ok := registry.Find(ref)
	if !ok {
		if explicit {
			return fmt.Errorf("page %q not found", ref)
		}
		return nil
	}
	registry.SetSelectedPage(ctx, &found)
	return nil
}

func (a *app) server(onChange func(ctx context.Context)) *web.Server {
	opts := []web.Option{
		web.WithToken(a.cfg.AuthToken),
		web.WithLogger(a.logger.Named("web")),
	}
	if onChange != nil {
		opts = append(opts, web.WithChangeHook(onChange))
	}
	return web.NewServer(a.store, a.pages, a.blobs, opts...)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// withApp opens the app with file logging for a one-shot command.
func withApp(cmd *cobra.Command, opts *options, run func(ctx context.Context, a *app) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, logger, opts.page)
	if err != nil {
		_ = logger.Sync()
		return err
	}
	defer a.close()
	return run(ctx, a)
}
