package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"assistant-dispatch-service/internal/models"
)

const (
	HeaderContentType   = "content-type"
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// DecodeRunRequest reads a task config from a request message. The value is
// a protobuf Struct when the content-type header says so, JSON otherwise.
func DecodeRunRequest(msg kafka.Message) (models.TaskConfig, error) {
	if contentType(msg) == ContentTypeProtobuf {
		var st structpb.Struct
		if err := proto.Unmarshal(msg.Value, &st); err != nil {
			return nil, fmt.Errorf("failed to decode protobuf run request: %w", err)
		}
		return models.TaskConfig(st.AsMap()), nil
	}
	return models.DecodeTaskConfig(msg.Value)
}

// EncodeRunRequest builds a request message for cfg, keyed by task type.
func EncodeRunRequest(cfg models.TaskConfig, protobuf bool) (kafka.Message, error) {
	msg := kafka.Message{Key: []byte(cfg.TaskType())}
	if protobuf {
		st, err := structpb.NewStruct(cfg)
		if err != nil {
			return kafka.Message{}, fmt.Errorf("task config is not representable as a protobuf Struct: %w", err)
		}
		value, err := proto.Marshal(st)
		if err != nil {
			return kafka.Message{}, fmt.Errorf("failed to marshal protobuf run request: %w", err)
		}
		msg.Value = value
		msg.Headers = []kafka.Header{{Key: HeaderContentType, Value: []byte(ContentTypeProtobuf)}}
		return msg, nil
	}
	value, err := json.Marshal(cfg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal run request: %w", err)
	}
	msg.Value = value
	msg.Headers = []kafka.Header{{Key: HeaderContentType, Value: []byte(ContentTypeJSON)}}
	return msg, nil
}

// EncodeRunResult builds the JSON result message for env, keyed by run id
// (or task type when the dispatch never got one).
func EncodeRunResult(env *models.ResultEnvelope) (kafka.Message, error) {
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal run result: %w", err)
	}
	key := env.RunID
	if key == "" {
		key = env.TaskType
	}
	return kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: HeaderContentType, Value: []byte(ContentTypeJSON)}},
	}, nil
}

func contentType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Key, HeaderContentType) {
			return strings.ToLower(strings.TrimSpace(string(h.Value)))
		}
	}
	return ""
}
