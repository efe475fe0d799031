package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"assistant-dispatch-service/internal/assistant-core/runtime"
	"assistant-dispatch-service/internal/assistant-worker/consumer"
	workerKafka "assistant-dispatch-service/internal/assistant-worker/kafka"
	"assistant-dispatch-service/internal/config"
)

func main() {
	stdlog.Println("Assistant Worker Service starting...")

	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	hlog.SetOutput(os.Stdout)
	hlog.SetLevel(cfg.HlogLevel())

	rt, err := runtime.New(cfg)
	if err != nil {
		stdlog.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			hlog.Errorf("Runtime close error: %v", err)
		}
	}()

	reader := workerKafka.NewReader(cfg.Kafka)
	defer reader.Close()
	writer := workerKafka.NewWriter(cfg.Kafka, cfg.Kafka.RunResultTopic)
	defer writer.Close()
	hlog.Infof("Assistant Worker consuming brokers: %s, topic: %s, groupID: %s",
		strings.Join(cfg.Kafka.Brokers, ","), cfg.Kafka.RunRequestTopic, cfg.Kafka.GroupID)
	hlog.Infof("Assistant Worker publishing results to topic: %s", cfg.Kafka.RunResultTopic)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := consumer.New(reader, writer, rt.Dispatcher.Dispatch)
	if err := c.Run(ctx); err != nil {
		hlog.Errorf("Assistant Worker stopped: %v", err)
	}
	hlog.Info("Assistant Worker gracefully shut down.")
}
