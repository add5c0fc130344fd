package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nupi-ai/plugin-tts-batch/internal/batch"
)

// Publisher is the subset of *nats.Conn used for progress events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSConfig describes the bus connection.
type NATSConfig struct {
	URL     string
	Subject string
	Token   string
	Timeout time.Duration
}

// Message is the JSON payload published for each event.
type Message struct {
	RunID     string `json:"run_id,omitempty"`
	Stage     string `json:"stage"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Done      int    `json:"done"`
	Filename  string `json:"filename"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// NATS publishes progress events to a subject.
type NATS struct {
	pub     Publisher
	subject string
	log     *slog.Logger
}

// Connect dials the NATS server described by cfg.
func Connect(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("progress: nats url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	options := []nats.Option{
		nats.Name("ttsbatch"),
		nats.Timeout(timeout),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	conn, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("progress: connect to nats: %w", err)
	}
	logger.Info("connected to NATS", "url", cfg.URL, "subject", cfg.Subject)
	return conn, nil
}

// NewNATS returns an observer publishing to subject.
func NewNATS(pub Publisher, subject string, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{
		pub:     pub,
		subject: subject,
		log:     logger.With("component", "progress", "subject", subject),
	}
}

// Progress implements batch.Observer. Publish failures are logged and never
// interrupt the batch.
func (n *NATS) Progress(e batch.Event) {
	msg := Message{
		RunID:    e.RunID,
		Stage:    string(e.Stage),
		Index:    e.Index,
		Total:    e.Total,
		Done:     e.Done,
		Filename: e.Filename,
	}
	if out := e.Outcome; out != nil {
		msg.Status = string(out.Status)
		msg.Reason = out.Reason
		msg.Attempts = out.Attempts
		msg.ElapsedMs = out.Elapsed.Milliseconds()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		n.log.Warn("failed to encode progress event", "error", err)
		return
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		n.log.Warn("failed to publish progress event", "error", err)
	}
}
