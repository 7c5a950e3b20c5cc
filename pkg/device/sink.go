package device

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
)

const (
	DefaultStartTopic  = "arrhythmia/svc_start"
	DefaultActionTopic = "arrhythmia/svc_action"
	DefaultDataTopic   = "patient-vitals-data-topic"

	PlaneControl = "control"
	PlaneData    = "data"
)

// Publisher delivers one message. Implementations must be safe for use by
// many streams at once.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

type PublisherFunc func(ctx context.Context, topic, key string, payload []byte) error

func (f PublisherFunc) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return f(ctx, topic, key, payload)
}

// Sinks groups the control-plane and data-plane publishers with their topics.
type Sinks struct {
	Control     Publisher
	Data        Publisher
	StartTopic  string
	ActionTopic string
	DataTopic   string
}

func (s Sinks) withDefaults() Sinks {
	if s.StartTopic == "" {
		s.StartTopic = DefaultStartTopic
	}
	if s.ActionTopic == "" {
		s.ActionTopic = DefaultActionTopic
	}
	if s.DataTopic == "" {
		s.DataTopic = DefaultDataTopic
	}
	return s
}

func (s Sinks) Validate() error {
	if s.Control == nil {
		return fmt.Errorf("control-plane publisher is required: %w", ErrSinkUnavailable)
	}
	if s.Data == nil {
		return fmt.Errorf("data-plane publisher is required: %w", ErrSinkUnavailable)
	}
	return nil
}

// LogPublisher writes messages to the log instead of a broker.
type LogPublisher struct {
	Plane string
}

func (p LogPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("refusing to log invalid json on %s", topic)
	}
	logger.Log.WithFields(logrus.Fields{
		"plane": p.Plane,
		"topic": topic,
		"key":   key,
		"bytes": len(payload),
	}).Info(string(payload))
	return nil
}
