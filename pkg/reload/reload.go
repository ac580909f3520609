package reload

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rari-build/rari-go/internal/errors"
	"github.com/rari-build/rari-go/pkg/loader"
	"github.com/rari-build/rari-go/pkg/registry"
)

// Config tunes the reload controller.
type Config struct {
	Enabled                bool
	MaxRetryAttempts       int
	ReloadTimeout          time.Duration
	ParallelReloads        bool
	DebounceDelay          time.Duration
	MaxHistorySize         int
	EnableMemoryMonitoring bool
}

// DefaultConfig returns the stock controller settings.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		MaxRetryAttempts: 3,
		ReloadTimeout:    5 * time.Second,
		ParallelReloads:  true,
		DebounceDelay:    150 * time.Millisecond,
		MaxHistorySize:   100,
	}
}

// RuntimeHandle is the runtime surface reloads need. *runtime.Runtime
// implements it.
type RuntimeHandle interface {
	AddModuleToLoaderOnly(specifier, code string)
	ClearModuleLoaderCaches(ctx context.Context, componentID string) error
	ExecuteScript(ctx context.Context, name, source string) (any, error)
	Loader() *loader.Loader
}

// ArtifactResolver maps a changed source file to its build artifact.
// Returning the source path itself means no build step sits in between.
type ArtifactResolver func(componentID, filePath string) string

// Request is one queued reload.
type Request struct {
	ComponentID string
	FilePath    string
	QueuedAt    time.Time
}

// Controller performs debounced invalidate/re-import/verify cycles with
// bounded retry. The last-known-good module keeps serving while a reload
// fails.
type Controller struct {
	cfg      Config
	rt       RuntimeHandle
	registry *registry.Registry
	logger   *slog.Logger
	notify   *NotifyServer
	resolve  ArtifactResolver

	mu       sync.Mutex
	debounce map[string]*time.Timer
	queue    []Request

	stats   stats
	history *historyRing

	// Build-freshness polling knobs, test-tunable.
	artifactPollInterval time.Duration
	artifactPollCeiling  time.Duration
}

// NewController creates a reload controller.
func NewController(cfg Config, rt RuntimeHandle, reg *registry.Registry) *Controller {
	if cfg.MaxRetryAttempts == 0 {
		cfg.MaxRetryAttempts = 3
	}
	if cfg.ReloadTimeout == 0 {
		cfg.ReloadTimeout = 5 * time.Second
	}
	if cfg.DebounceDelay == 0 {
		cfg.DebounceDelay = 150 * time.Millisecond
	}
	if cfg.MaxHistorySize == 0 {
		cfg.MaxHistorySize = 100
	}
	return &Controller{
		cfg:                  cfg,
		rt:                   rt,
		registry:             reg,
		logger:               slog.Default(),
		debounce:             make(map[string]*time.Timer),
		history:              newHistoryRing(cfg.MaxHistorySize),
		resolve:              func(_, filePath string) string { return filePath },
		artifactPollInterval: 50 * time.Millisecond,
		artifactPollCeiling:  5 * time.Second,
	}
}

// WithLogger overrides the controller logger.
func (c *Controller) WithLogger(logger *slog.Logger) *Controller {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithNotifyServer attaches the browser notification channel.
func (c *Controller) WithNotifyServer(n *NotifyServer) *Controller {
	c.notify = n
	return c
}

// WithArtifactResolver overrides source-to-artifact mapping.
func (c *Controller) WithArtifactResolver(r ArtifactResolver) *Controller {
	if r != nil {
		c.resolve = r
	}
	return c
}

// Enabled reports whether the controller acts on reload requests.
func (c *Controller) Enabled() bool {
	return c.cfg.Enabled
}

// ReloadModuleDebounced coalesces rapid-fire changes: any previously
// scheduled reload for the same component is cancelled and the timer
// restarts.
func (c *Controller) ReloadModuleDebounced(componentID, filePath string) {
	if !c.cfg.Enabled {
		return
	}

	c.mu.Lock()
	if timer, ok := c.debounce[componentID]; ok {
		timer.Stop()
	}
	c.debounce[componentID] = time.AfterFunc(c.cfg.DebounceDelay, func() {
		c.mu.Lock()
		delete(c.debounce, componentID)
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReloadTimeout)
		defer cancel()
		if err := c.ReloadModule(ctx, componentID, filePath); err != nil {
			c.logger.Error("debounced reload failed", "component", componentID, "err", err)
		}
	})
	c.mu.Unlock()
}

// ReloadModule waits for a fresh build artifact, invalidates caches,
// re-imports, verifies, and records the outcome. Retries use exponential
// backoff; once the consecutive-failure cap is reached, reloads
// short-circuit until the next file change.
func (c *Controller) ReloadModule(ctx context.Context, componentID, filePath string) error {
	if !c.cfg.Enabled {
		return nil
	}

	if entry, ok := c.registry.Get(componentID); ok && entry.RetryAttempts >= c.cfg.MaxRetryAttempts {
		c.logger.Warn("reload short-circuited after consecutive failures",
			"component", componentID, "failures", entry.RetryAttempts)
		return errors.New("E080").WithDetailf("%s exceeded %d consecutive failures", componentID, c.cfg.MaxRetryAttempts)
	}

	start := time.Now()
	err := c.reloadWithRetry(ctx, componentID, filePath)
	duration := time.Since(start)

	c.stats.record(err == nil, duration)
	c.history.add(HistoryEntry{
		ComponentID: componentID,
		Success:     err == nil,
		Duration:    duration,
		At:          time.Now(),
	})

	if err != nil {
		attempts := c.registry.RecordRetry(componentID)
		c.publish(Event{
			Type:       EventReloadFailed,
			Component:  componentID,
			File:       filePath,
			DurationMs: duration.Milliseconds(),
			Attempts:   attempts,
			Error:      err.Error(),
		})
		return err
	}

	c.registry.ResetRetries(componentID)
	c.publish(Event{
		Type:       EventReloaded,
		Component:  componentID,
		File:       filePath,
		DurationMs: duration.Milliseconds(),
	})
	if c.cfg.EnableMemoryMonitoring {
		c.logMemoryUsage()
	}
	return nil
}

// publish attaches the running stats and forwards the event to connected
// browsers, if any.
func (c *Controller) publish(event Event) {
	if c.notify == nil {
		return
	}
	event.Stats = statsPayload(c.stats.snapshot())
	c.notify.Publish(event)
}

// reloadWithRetry runs the reload cycle under the per-reload deadline,
// backing off 100ms, 200ms, 400ms... between attempts.
func (c *Controller) reloadWithRetry(ctx context.Context, componentID, filePath string) error {
	deadline, cancel := context.WithTimeout(ctx, c.cfg.ReloadTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetryAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(100*(1<<(attempt-2))) * time.Millisecond
			select {
			case <-deadline.Done():
				return errors.New("E081").WithDetail(componentID).Wrap(lastErr)
			case <-time.After(backoff):
			}
		}

		lastErr = c.performReload(deadline, componentID, filePath)
		if lastErr == nil {
			return nil
		}
		c.logger.Warn("reload attempt failed",
			"component", componentID, "attempt", attempt, "err", lastErr)

		if deadline.Err() != nil {
			return errors.New("E081").WithDetail(componentID).Wrap(lastErr)
		}
	}
	return errors.New("E080").WithDetail(componentID).Wrap(lastErr)
}

// performReload is one attempt: artifact freshness, cache invalidation,
// re-import through the loader, and component verification.
func (c *Controller) performReload(ctx context.Context, componentID, filePath string) error {
	artifactPath := c.resolve(componentID, filePath)
	if err := c.waitForFreshArtifact(ctx, filePath, artifactPath); err != nil {
		return err
	}

	source, err := os.ReadFile(artifactPath)
	if err != nil {
		return errors.New("E080").WithDetail(artifactPath).Wrap(err)
	}

	code := string(source)
	if needsTranspile(artifactPath) {
		code, err = loader.DefaultTranspiler(artifactPath, code)
		if err != nil {
			return err
		}
	}

	if err := c.rt.ClearModuleLoaderCaches(ctx, componentID); err != nil {
		c.logger.Warn("cache invalidation script failed", "component", componentID, "err", err)
	}

	// Hot sources bypass the engine's ES-module system entirely: the
	// loader gets a fresh versioned copy and re-registration happens at
	// script level.
	spec := c.rt.Loader().AddVersionedModule(componentID, code)
	c.rt.AddModuleToLoaderOnly(loader.ComponentSpecifier(componentID), code)

	lowered, err := loader.LowerToCommonJS(componentID+".js", code)
	if err != nil {
		return err
	}
	registerScript := buildReRegisterScript(componentID, lowered)
	result, err := c.rt.ExecuteScript(ctx, "<reload_"+componentID+">", registerScript)
	if err != nil {
		return errors.New("E080").WithDetail(componentID).Wrap(err)
	}
	if ok, detail := reRegisterSucceeded(result); !ok {
		return errors.New("E082").WithDetailf("%s: %s", componentID, detail)
	}

	if err := c.verifyComponent(ctx, componentID); err != nil {
		return err
	}

	if c.registry.IsRegistered(componentID) {
		c.registry.Register(componentID, string(source), code, nil)
		c.registry.MarkLoaded(componentID)
	}

	c.logger.Info("module reloaded", "component", componentID, "specifier", spec)
	return nil
}

// waitForFreshArtifact polls until the build artifact is at least as new
// as the changed source.
func (c *Controller) waitForFreshArtifact(ctx context.Context, sourcePath, artifactPath string) error {
	if sourcePath == artifactPath {
		return nil
	}
	sourceInfo, err := os.Stat(sourcePath)
	if err != nil {
		// Source gone (rename, delete); the artifact is all there is.
		return nil
	}

	deadline := time.Now().Add(c.artifactPollCeiling)
	for {
		if info, err := os.Stat(artifactPath); err == nil && !info.ModTime().Before(sourceInfo.ModTime()) {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("E083").WithDetail(artifactPath)
		}
		select {
		case <-ctx.Done():
			return errors.New("E081").WithDetail(artifactPath).Wrap(ctx.Err())
		case <-time.After(c.artifactPollInterval):
		}
	}
}

// verifyComponent checks the re-imported component exists and is callable.
func (c *Controller) verifyComponent(ctx context.Context, componentID string) error {
	script := `JSON.stringify({ ok: typeof (globalThis.__rari_components && globalThis.__rari_components[` +
		jsonQuote(componentID) + `]) === "function" })`
	result, err := c.rt.ExecuteScript(ctx, "<verify_"+componentID+">", script)
	if err != nil {
		return errors.New("E082").WithDetail(componentID).Wrap(err)
	}
	if ok, _ := reRegisterSucceeded(result); !ok {
		return errors.New("E082").WithDetail(componentID)
	}
	return nil
}

// Enqueue appends a reload request to the controller queue.
func (c *Controller) Enqueue(req Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req.QueuedAt.IsZero() {
		req.QueuedAt = time.Now()
	}
	c.queue = append(c.queue, req)
}

// Dequeue pops the oldest queued request.
func (c *Controller) Dequeue() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Request{}, false
	}
	req := c.queue[0]
	c.queue = c.queue[1:]
	return req, true
}

// QueueSize returns the number of queued requests.
func (c *Controller) QueueSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func needsTranspile(path string) bool {
	p := strings.ToLower(path)
	return strings.HasSuffix(p, ".ts") || strings.HasSuffix(p, ".tsx") || strings.HasSuffix(p, ".jsx")
}
