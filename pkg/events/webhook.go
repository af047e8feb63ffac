package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/sessionsync/pkg/log"
	"github.com/cuemby/sessionsync/pkg/metrics"
	"github.com/cuemby/sessionsync/pkg/retry"
	"github.com/rs/zerolog"
)

// Webhook delivery headers
const (
	HeaderEvent     = "X-Sessionsync-Event"
	HeaderTimestamp = "X-Sessionsync-Timestamp"
	HeaderSignature = "X-Sessionsync-Signature"
)

// WebhookConfig configures outbound event delivery
type WebhookConfig struct {
	URLs    []string
	Secret  string
	Timeout time.Duration
	Retry   retry.Policy

	// Types limits delivery to the listed event types; empty means all
	Types []EventType
}

// Dispatcher forwards broker events to webhook URLs as JSON POSTs
type Dispatcher struct {
	broker *Broker
	cfg    WebhookConfig
	client *http.Client
	logger zerolog.Logger
	types  map[EventType]bool
	now    func() time.Time

	sub    Subscriber
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher for broker. Nothing is delivered
// until Start is called.
func NewDispatcher(broker *Broker, cfg WebhookConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	d := &Dispatcher{
		broker: broker,
		cfg:    cfg,
		client: &http.Client{},
		logger: log.WithComponent("webhooks"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	if len(cfg.Types) > 0 {
		d.types = make(map[EventType]bool, len(cfg.Types))
		for _, t := range cfg.Types {
			d.types[t] = true
		}
	}
	return d
}

// Start subscribes to the broker and delivers events in the background
func (d *Dispatcher) Start() {
	if len(d.cfg.URLs) == 0 {
		return
	}
	d.sub = d.broker.Subscribe()
	d.wg.Add(1)
	go d.run()
}

// Stop unsubscribes and waits for the in-flight delivery to finish
func (d *Dispatcher) Stop() {
	if d.sub == nil {
		return
	}
	close(d.stopCh)
	d.broker.Unsubscribe(d.sub)
	d.wg.Wait()
	d.sub = nil
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-d.stopCh
		cancel()
	}()

	for {
		select {
		case event, ok := <-d.sub:
			if !ok {
				return
			}
			if err := d.Deliver(ctx, event); err != nil {
				d.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("Webhook delivery failed")
			}
		case <-d.stopCh:
			return
		}
	}
}

// Deliver posts event to every configured URL. Each URL is retried on its
// own; the returned error joins every URL that finally failed.
func (d *Dispatcher) Deliver(ctx context.Context, event *Event) error {
	if d.types != nil && !d.types[event.Type] {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	var errs []error
	for _, url := range d.cfg.URLs {
		err := retry.Do(ctx, d.cfg.Retry, func(ctx context.Context, attempt int) error {
			return d.post(ctx, url, event, body)
		})
		if err != nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) post(ctx context.Context, url string, event *Event, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	timestamp := d.now().UTC().Format(time.RFC3339)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderTimestamp, timestamp)
	if d.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(d.cfg.Secret, timestamp, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of timestamp, a newline and body
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign and rejects timestamps further
// than maxSkew from now
func Verify(secret, timestamp, signature string, body []byte, now time.Time, maxSkew time.Duration) error {
	if timestamp == "" || signature == "" {
		return errors.New("missing signature headers")
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return errors.New("invalid signature timestamp")
	}
	delta := now.Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if maxSkew > 0 && delta > maxSkew {
		return errors.New("signature timestamp outside allowed window")
	}
	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("signature mismatch")
	}
	return nil
}
