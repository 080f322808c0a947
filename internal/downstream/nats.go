package downstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

const flushTimeout = 5 * time.Second

// NATSStep publishes the cycle report as JSON.
type NATSStep struct {
	conn    *nats.Conn
	subject string
}

func NewNATSStep(url, subject string) (*NATSStep, error) {
	conn, err := nats.Connect(url, nats.Name("harvester"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSStep{conn: conn, subject: subject}, nil
}

func (n *NATSStep) Name() string { return "notify" }

func (n *NATSStep) Run(ctx context.Context, report models.CycleReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return n.conn.FlushTimeout(flushTimeout)
}

func (n *NATSStep) Close() error {
	n.conn.Close()
	return nil
}
