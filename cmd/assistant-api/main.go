package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"

	"assistant-dispatch-service/internal/assistant-api/api"
	"assistant-dispatch-service/internal/assistant-api/services"
	"assistant-dispatch-service/internal/assistant-core/runtime"
	"assistant-dispatch-service/internal/config"
)

func main() {
	stdlog.Println("Assistant API Service starting...")

	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	hlog.SetOutput(os.Stdout)
	hlog.SetLevel(cfg.HlogLevel())

	appCtx, appCancel := context.WithCancel(context.Background())

	rt, err := runtime.New(cfg)
	if err != nil {
		stdlog.Fatalf("Failed to initialize runtime: %v", err)
	}
	hlog.Infof("Runtime initialized with %d assistants (fallback: %t).", len(rt.Registry.Keys()), rt.Registry.UsingFallback())

	schedulerService, err := services.NewSchedulerService(appCtx, rt.Registry, rt.Dispatcher.Dispatch, cfg.RegistryReloadInterval)
	if err != nil {
		stdlog.Fatalf("Failed to create scheduler service: %v", err)
	}
	if err := schedulerService.Start(); err != nil {
		stdlog.Fatalf("Failed to start scheduler service: %v", err)
	}

	h := server.Default(server.WithHostPorts(cfg.ServerAddr), server.WithExitWaitTime(5*time.Second))
	api.RegisterRoutes(h,
		api.NewRunHandler(rt),
		api.NewRegistryHandler(rt.Registry, rt.Health, schedulerService.ReloadRegistry),
	)

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		hlog.Infof("Received signal: %s. Initiating graceful shutdown...", sig)

		appCancel()

		shutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpShutdownCancel()
		if err := h.Shutdown(shutdownCtx); err != nil {
			hlog.Errorf("Hertz server shutdown error: %v", err)
		} else {
			hlog.Info("Hertz server gracefully stopped.")
		}

		schedulerService.Stop()

		if err := rt.Close(); err != nil {
			hlog.Errorf("Runtime close error: %v", err)
		}
		hlog.Info("Assistant API gracefully shut down.")
	}()

	hlog.Infof("Assistant API Service starting Hertz server on %s...", cfg.ServerAddr)
	h.Spin()

	stdlog.Println("Assistant API Service has been shut down.")
}
