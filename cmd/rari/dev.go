package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rari-build/rari-go/internal/config"
	"github.com/rari-build/rari-go/internal/dev"
	"github.com/rari-build/rari-go/internal/errors"
	"github.com/rari-build/rari-go/pkg/loader"
	"github.com/rari-build/rari-go/pkg/loader/s3source"
	"github.com/rari-build/rari-go/pkg/registry"
	"github.com/rari-build/rari-go/pkg/reload"
	"github.com/rari-build/rari-go/pkg/renderer"
	"github.com/rari-build/rari-go/pkg/runtime"
	"github.com/rari-build/rari-go/pkg/runtime/gojaengine"
	"github.com/rari-build/rari-go/pkg/server"
)

func devCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the development server with hot reload",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return errors.New("E110").Wrap(err)
			}

			cfg, err := config.Load(cwd)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Dev.Port = port
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			slog.SetDefault(logger)

			engine, err := buildEngine(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			defer engine.rt.Close()

			notify := reload.NewNotifyServer()
			defer notify.Close()

			reloadCfg := reload.Config{
				Enabled:                cfg.Dev.HotReload && cfg.Reload.Enabled,
				MaxRetryAttempts:       cfg.Reload.MaxRetryAttempts,
				ReloadTimeout:          time.Duration(cfg.Reload.ReloadTimeoutMs) * time.Millisecond,
				ParallelReloads:        cfg.Reload.ParallelReloadsEnabled(),
				DebounceDelay:          time.Duration(cfg.Reload.DebounceDelayMs) * time.Millisecond,
				MaxHistorySize:         cfg.Reload.MaxHistorySize,
				EnableMemoryMonitoring: cfg.Reload.EnableMemoryMonitoring,
			}
			controller := reload.NewController(reloadCfg, engine.rt, engine.registry).
				WithLogger(logger).
				WithNotifyServer(notify)

			watcher := dev.NewWatcher(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("watcher stopped", "err", err)
				}
			}()
			go func() {
				for change := range watcher.Events() {
					switch change.Kind {
					case dev.ChangeConfig:
						logger.Warn("rari.json changed; restart to apply", "path", change.Path)
					case dev.ChangeRemoved:
						engine.registry.MarkStale(change.ComponentID)
						logger.Info("component source removed", "component", change.ComponentID)
					default:
						controller.ReloadModuleDebounced(change.ComponentID, change.Path)
					}
				}
			}()

			srv := server.New(server.Config{
				Host:          cfg.Dev.Host,
				Port:          cfg.Dev.Port,
				EnableMetrics: true,
				Logger:        logger,
			}, engine.orchestrator, engine.routeResolver()).WithNotifyServer(notify)

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides rari.json)")
	return cmd
}

// engineParts bundles the wired subsystems the commands share.
type engineParts struct {
	rt           *runtime.Runtime
	registry     *registry.Registry
	orchestrator *renderer.Orchestrator
	cfg          *config.Config
}

// buildEngine wires loader, runtime, registry, and orchestrator, then
// registers every component source found on disk.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, devMode bool) (*engineParts, error) {
	ld := loader.New()
	if cfg.ModuleSource.S3Bucket != "" {
		store, err := s3source.NewFromDefaultConfig(ctx, cfg.ModuleSource.S3Bucket, cfg.ModuleSource.S3Prefix, cfg.ModuleSource.S3Region)
		if err != nil {
			return nil, err
		}
		ld.WithRemoteStore(store)
	}
	rt, err := runtime.New(gojaengine.New, ld, runtime.Config{
		ScriptTimeout: time.Duration(cfg.Render.ScriptTimeoutMs) * time.Millisecond,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	reg := registry.New()

	opts := []renderer.Option{
		renderer.WithLogger(logger),
		renderer.WithStreamingEnabled(cfg.Render.Streaming),
		renderer.WithMaxConcurrentRenders(cfg.Render.MaxConcurrentRenders),
	}
	if devMode {
		opts = append(opts, renderer.WithDevMode(
			filepath.Join(cfg.Dir(), cfg.Paths.Routes),
			filepath.Join(cfg.Dir(), cfg.Paths.Components),
		))
	}
	orchestrator := renderer.New(rt, reg, opts...)

	if err := registerProjectComponents(cfg, reg, logger); err != nil {
		rt.Close()
		return nil, err
	}
	if err := orchestrator.Initialize(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	return &engineParts{rt: rt, registry: reg, orchestrator: orchestrator, cfg: cfg}, nil
}

// registerProjectComponents scans the routes and components trees and
// registers every source with its transpiled form.
func registerProjectComponents(cfg *config.Config, reg *registry.Registry, logger *slog.Logger) error {
	roots := []string{
		filepath.Join(cfg.Dir(), cfg.Paths.Routes),
		filepath.Join(cfg.Dir(), cfg.Paths.Components),
	}

	for _, root := range roots {
		filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			if !isComponentSource(path) {
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			source := string(data)

			id := dev.ComponentIDFor(path)
			if strings.Contains(filepath.Base(path), ".client.") {
				if err := reg.RegisterClientReference(id, path, "default"); err != nil {
					logger.Warn("client reference registration failed", "path", path, "err", err)
				}
				return nil
			}

			transformed, err := loader.DefaultTranspiler(path, source)
			if err != nil {
				logger.Warn("transpile failed", "path", path, "err", err)
				return nil
			}
			if err := reg.Register(id, source, transformed, nil); err != nil {
				logger.Warn("registration failed", "path", path, "err", err)
			}
			return nil
		})
	}
	return nil
}

func isComponentSource(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx", ".jsx", ".ts", ".js", ".mjs":
		return true
	default:
		return false
	}
}

// routeResolver maps request paths straight onto registered page
// components: "/" to Index, "/about" to About. Full file-based routing
// belongs to the HTTP layer above the engine.
func (p *engineParts) routeResolver() server.RouteResolver {
	return func(path string) (renderer.RouteMatch, bool) {
		name := strings.Trim(path, "/")
		if name == "" {
			name = "index"
		}
		candidates := []string{
			name,
			strings.ToUpper(name[:1]) + name[1:],
			"Index",
			"index",
		}
		layouts := []string{}
		if p.registry.IsRegistered("Layout") {
			layouts = append(layouts, "Layout")
		}
		for _, candidate := range candidates {
			if p.registry.IsRegistered(candidate) {
				return renderer.RouteMatch{ComponentID: candidate, LayoutIDs: layouts}, true
			}
		}
		if p.registry.IsRegistered("NotFound") {
			return renderer.RouteMatch{ComponentID: "NotFound", LayoutIDs: layouts, IsNotFound: true}, true
		}
		return renderer.RouteMatch{}, false
	}
}
