package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"warden/internal/background"
	"warden/internal/config"
	"warden/internal/events"
	"warden/internal/isolation"
	"warden/internal/logging"
	"warden/internal/middleware"
	"warden/internal/security"
	"warden/internal/session"
	"warden/internal/tooling"
)

// app holds everything one command invocation needs.
type app struct {
	cfg        config.Config
	executor   *tooling.Executor
	registry   *tooling.Registry
	background *background.Registry
	bus        *events.Bus
	sessions   *session.SQLDirectory
	ec         tooling.ExecContext
	log        *logging.StructuredLogger
	stopPrune  context.CancelFunc
}

// pruneInterval is how often expired rate-limit windows are dropped.
const pruneInterval = time.Minute

func loadConfig(flags *rootFlags) (config.Config, error) {
	if path := strings.TrimSpace(flags.configPath); path != "" {
		// Isolation workers read the same file.
		os.Setenv("WARDEN_CONFIG_PATH", path)
		return config.Load(path)
	}
	return config.LoadUserConfig()
}

func builtinOptions(cfg config.Config, bg *background.Registry) tooling.BuiltinOptions {
	return tooling.BuiltinOptions{
		ShellTimeout:      cfg.ShellTimeout(),
		MaxOutput:         cfg.MaxOutput.Int(),
		Background:        bg,
		OutputWaitTimeout: cfg.OutputWaitTimeout(),
	}
}

func openSessions(ctx context.Context, cfg config.Config) (*session.SQLDirectory, error) {
	dir, err := session.OpenSQL(ctx, cfg.Sessions.Driver, cfg.Sessions.DSN, cfg.SessionCacheTTL())
	if err != nil {
		return nil, fmt.Errorf("open session directory: %w", err)
	}
	return dir, nil
}

// newApp loads config and wires the executor with its collaborators.
func newApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	cfg.OverrideProjectRoot(flags.root)
	logging.Init(cfg.LogOptions())

	a := &app{cfg: cfg, log: logging.NewStructuredLogger("cli")}

	granted := cfg.Granted()
	if g := strings.TrimSpace(flags.grant); g != "" {
		if granted, err = security.ParseTier(g); err != nil {
			return nil, fmt.Errorf("--grant: %w", err)
		}
	}
	a.ec = tooling.ExecContext{
		SessionID:   flags.session,
		GrantedTier: granted,
		Consented:   append(append([]string(nil), cfg.ConsentedTools...), flags.consent...),
	}
	// An explicit --root wins; a session id alone resolves through the
	// directory.
	if flags.root != "" || flags.session == "" {
		a.ec.ProjectRoot = cfg.ProjectRoot
	}

	var dir session.Directory
	if flags.session != "" {
		if a.sessions, err = openSessions(ctx, cfg); err != nil {
			return nil, err
		}
		dir = a.sessions
	}

	sinks := []events.Sink{events.NewLogSink(logging.L())}
	if dsn := strings.TrimSpace(cfg.Events.ClickHouseDSN); dsn != "" {
		ch, err := events.NewClickHouseSink(ctx, dsn, cfg.Events.BufferSize, logging.L())
		if err != nil {
			// Event export is best effort; calls still run.
			a.log.Warn("clickhouse sink disabled", map[string]interface{}{"error": err.Error()})
		} else {
			sinks = append(sinks, ch)
		}
	}
	a.bus = events.NewBus(sinks...)

	iso, err := isolation.New(isolation.Options{
		MaxHeap: int64(cfg.IsolationMaxHeap),
		Timeout: cfg.ToolTimeout(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.background = background.NewRegistry(cfg.BackgroundBuffer.Int())
	a.registry, err = tooling.NewRegistry(tooling.Builtins(builtinOptions(cfg, a.background))...)
	if err != nil {
		a.Close()
		return nil, err
	}

	limiter := rateLimiter(cfg)
	pruneCtx, stopPrune := context.WithCancel(context.Background())
	a.stopPrune = stopPrune
	go limiter.PruneEvery(pruneCtx, pruneInterval)

	a.executor, err = tooling.NewExecutor(tooling.Options{
		Registry:         a.registry,
		Middleware:       middleware.NewChain(limiter, toolTiers(cfg, a.registry)),
		Sessions:         dir,
		Isolation:        iso,
		Events:           a.bus,
		DefaultTimeout:   cfg.ToolTimeout(),
		BatchConcurrency: cfg.BatchConcurrency,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func rateLimiter(cfg config.Config) *middleware.RateLimiter {
	perTool := make(map[string]middleware.Limit, len(cfg.ToolRateLimits))
	for name, rl := range cfg.ToolRateLimits {
		perTool[name] = middleware.Limit{Count: rl.Count, Window: rl.Window()}
	}
	return middleware.NewRateLimiter(middleware.Limit{
		Count:  cfg.RateLimit.Count,
		Window: cfg.RateLimit.Window(),
	}, perTool)
}

func toolTiers(cfg config.Config, registry *tooling.Registry) map[string]security.Tier {
	tiers := make(map[string]security.Tier)
	for _, name := range registry.Names() {
		if tier, ok := cfg.ToolTier(name); ok {
			tiers[name] = tier
		}
	}
	return tiers
}

// Close stops background commands and flushes sinks. Safe on a partly
// built app.
func (a *app) Close() {
	if a.stopPrune != nil {
		a.stopPrune()
	}
	if a.background != nil {
		a.background.Shutdown()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.sessions != nil {
		_ = a.sessions.Close()
	}
}
