// Package webhook forwards mined requirement DTOs to an optional external
// worker endpoint. Delivery is fire-and-forget: failures are logged and
// never retried, and the pipeline never waits on the endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/reqforge/reqforge/pkg/bus"
	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/models"
)

// Forwarder POSTs requirement DTOs to the configured endpoint.
type Forwarder struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	// in-flight deliveries, drained by Close
	wg sync.WaitGroup
}

// NewForwarder creates the forwarder. A nil or endpoint-less config
// returns nil, which Subscribe treats as disabled.
func NewForwarder(cfg *config.WebhookConfig, logger *slog.Logger) *Forwarder {
	if cfg == nil || cfg.Endpoint == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With("component", "webhook"),
	}
}

// Subscribe attaches the forwarder to the DTO topic. Safe to call with a
// nil forwarder.
func (f *Forwarder) Subscribe(b *bus.Bus) {
	if f == nil || b == nil {
		return
	}
	b.Subscribe(bus.TopicDTO, "webhook-forwarder", func(ctx context.Context, msg bus.Message) error {
		req, ok := msg.Payload.(models.Requirement)
		if !ok {
			return nil
		}
		f.Deliver(req)
		return nil
	})
}

// Deliver POSTs one DTO asynchronously. The caller never blocks on the
// endpoint and never learns about delivery failures.
func (f *Forwarder) Deliver(req models.Requirement) {
	if f == nil {
		return
	}
	body, err := json.Marshal(req)
	if err != nil {
		f.logger.Warn("DTO serialization failed, dropping delivery", "req_id", req.ReqID, "error", err)
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := f.post(body); err != nil {
			f.logger.Warn("DTO delivery failed", "req_id", req.ReqID, "endpoint", f.endpoint, "error", err)
		}
	}()
}

// Close waits for in-flight deliveries to finish.
func (f *Forwarder) Close() {
	if f == nil {
		return
	}
	f.wg.Wait()
}

func (f *Forwarder) post(body []byte) error {
	httpReq, err := http.NewRequest(http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint answered %d", resp.StatusCode)
	}
	return nil
}
