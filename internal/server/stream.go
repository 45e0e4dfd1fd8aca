package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamUplink persists everything the gateway publishes when JetStream is on.
const StreamUplink = "FMS_JT808"

func uplinkStreamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      StreamUplink,
		Subjects:  []string{"fms.uplink.>", SubjectCommandResponse},
		Retention: nats.LimitsPolicy,
		MaxMsgs:   -1,
		MaxBytes:  10 * 1024 * 1024 * 1024, // 10GB
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}
}

// JetStreamPublisher publishes through JetStream so uplinks survive
// consumer restarts
type JetStreamPublisher struct {
	js nats.JetStreamContext
}

// NewJetStreamPublisher creates or updates the uplink stream on nc
func NewJetStreamPublisher(nc *nats.Conn) (*JetStreamPublisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	cfg := uplinkStreamConfig()
	if _, err := js.AddStream(cfg); err != nil {
		if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		if _, err := js.UpdateStream(cfg); err != nil {
			return nil, fmt.Errorf("failed to update stream %s: %w", cfg.Name, err)
		}
	}
	return &JetStreamPublisher{js: js}, nil
}

func (p *JetStreamPublisher) Publish(subject string, data []byte) error {
	_, err := p.js.Publish(subject, data)
	return err
}
