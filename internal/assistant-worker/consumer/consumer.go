package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/segmentio/kafka-go"

	"assistant-dispatch-service/internal/assistant-worker/events"
	"assistant-dispatch-service/internal/models"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DispatchFunc runs one task config to completion.
type DispatchFunc func(ctx context.Context, cfg models.TaskConfig) *models.ResultEnvelope

// Consumer turns run request messages into dispatches and publishes one
// result envelope per request. Requests are handled one at a time.
type Consumer struct {
	Reader   MessageReader
	Writer   MessageWriter
	Dispatch DispatchFunc

	// ErrorBackoff is the pause after a failed fetch.
	ErrorBackoff time.Duration
	WriteTimeout time.Duration
}

func New(reader MessageReader, writer MessageWriter, dispatch DispatchFunc) *Consumer {
	return &Consumer{
		Reader:       reader,
		Writer:       writer,
		Dispatch:     dispatch,
		ErrorBackoff: time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Run consumes until ctx is canceled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	hlog.Info("Consumer: listening for run requests...")
	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				hlog.Info("Consumer: context cancelled, exiting message loop.")
				return nil
			}
			if errors.Is(err, io.EOF) {
				hlog.Info("Consumer: reader closed (EOF), exiting.")
				return nil
			}
			hlog.Warnf("Consumer: fetch error: %v. Retrying...", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.ErrorBackoff):
			}
			continue
		}

		if err := c.Handle(ctx, msg); err != nil {
			hlog.Errorf("Consumer: %v", err)
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// Handle dispatches one message, publishes its envelope and commits the
// offset. The offset is left uncommitted when publishing fails so the
// request is redelivered.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	hlog.Debugf("Consumer: received message topic %s, partition %d, offset %d", msg.Topic, msg.Partition, msg.Offset)

	var env *models.ResultEnvelope
	cfg, err := events.DecodeRunRequest(msg)
	if err != nil {
		hlog.Warnf("Consumer: undecodable run request at offset %d: %v", msg.Offset, err)
		env = &models.ResultEnvelope{
			Status:   models.StatusFailed,
			TaskType: string(msg.Key),
			Outputs:  []string{},
			Metadata: map[string]interface{}{},
			Error: &models.DispatchError{
				Kind:    models.ErrInvalidConfig,
				Message: err.Error(),
			},
		}
	} else {
		env = c.Dispatch(ctx, cfg)
	}

	if err := c.publish(ctx, env); err != nil {
		return fmt.Errorf("failed to publish result for offset %d: %w", msg.Offset, err)
	}
	if err := c.Reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

func (c *Consumer) publish(ctx context.Context, env *models.ResultEnvelope) error {
	out, err := events.EncodeRunResult(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, c.WriteTimeout)
	defer cancel()
	if err := c.Writer.WriteMessages(writeCtx, out); err != nil {
		return err
	}
	hlog.Infof("Consumer: published %s result for task type '%s' (run %s)", env.Status, env.TaskType, env.RunID)
	return nil
}
