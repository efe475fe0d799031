package runtime

import (
	"context"
	"fmt"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"assistant-dispatch-service/internal/assistant-core/archiver"
	"assistant-dispatch-service/internal/assistant-core/dispatcher"
	"assistant-dispatch-service/internal/assistant-core/engine"
	"assistant-dispatch-service/internal/assistant-core/handlers"
	"assistant-dispatch-service/internal/assistant-core/health"
	"assistant-dispatch-service/internal/assistant-core/history"
	"assistant-dispatch-service/internal/assistant-core/registry"
	"assistant-dispatch-service/internal/config"
	"assistant-dispatch-service/internal/models"
	"assistant-dispatch-service/pkg/db"
)

// Runtime is the process-wide state shared by every boundary surface.
type Runtime struct {
	Config     *config.Config
	Registry   *registry.Registry
	Journal    history.Journal
	Archiver   *archiver.Archiver
	Engine     *engine.Engine
	Dispatcher *dispatcher.Dispatcher
	Health     *health.Checker
}

// New builds the runtime from cfg. An unusable registry source is not fatal:
// the built-in assistants are installed instead.
func New(cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	catalog := registry.NewCatalog()
	catalog.RegisterKind(registry.KindEcho, handlers.NewEchoFactory())
	catalog.RegisterKind(registry.KindScript, handlers.NewScriptFactory())
	catalog.RegisterKind(registry.KindChain, handlers.NewChainFactory(func(ctx context.Context, step models.TaskConfig) *models.ResultEnvelope {
		return rt.Dispatcher.Dispatch(ctx, step)
	}))

	rt.Registry = registry.New(catalog, cfg.RegistrySource)
	if err := rt.Registry.Load(); err != nil {
		hlog.Warnf("Runtime: registry source not loaded: %v", err)
	}

	journal, err := newJournal(cfg)
	if err != nil {
		return nil, err
	}
	rt.Journal = journal

	var archiveOpts []archiver.Option
	if cfg.ArchiveS3.Enabled() {
		mirror, err := archiver.NewS3Mirror(cfg.ArchiveS3)
		if err != nil {
			_ = journal.Close()
			return nil, fmt.Errorf("failed to configure archive mirror: %w", err)
		}
		archiveOpts = append(archiveOpts, archiver.WithMirror(mirror))
		hlog.Infof("Runtime: mirroring archives to bucket %s", cfg.ArchiveS3.Bucket)
	}
	rt.Archiver = archiver.New(cfg.ArchiveDir, archiveOpts...)

	rt.Engine = engine.New(engine.RetryPolicy{MaxAttempts: cfg.RetryMaxAttempts, Delay: cfg.RetryDelay})
	rt.Dispatcher = dispatcher.New(rt.Registry, rt.Engine,
		dispatcher.WithJournal(rt.Journal),
		dispatcher.WithArchiver(rt.Archiver),
		dispatcher.WithOutputDir(cfg.OutputDir),
	)
	rt.Health = health.NewChecker(rt.Registry)
	return rt, nil
}

func newJournal(cfg *config.Config) (history.Journal, error) {
	switch cfg.HistoryBackend {
	case config.HistoryBackendSQL:
		gormDB, err := db.NewGormDB(cfg.DBType, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		j, err := history.NewSQLJournal(gormDB)
		if err != nil {
			return nil, err
		}
		hlog.Infof("Runtime: recording history in %s database", cfg.DBType)
		return j, nil
	default:
		hlog.Infof("Runtime: recording history under %s", cfg.OutputDir)
		return history.NewFileJournal(cfg.OutputDir), nil
	}
}

// RunAssistant is the inbound operation: dispatch one config.
func (rt *Runtime) RunAssistant(ctx context.Context, cfg models.TaskConfig) *models.ResultEnvelope {
	return rt.Dispatcher.Dispatch(ctx, cfg)
}

func (rt *Runtime) Close() error {
	if rt.Journal == nil {
		return nil
	}
	return rt.Journal.Close()
}
