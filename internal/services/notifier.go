package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ToastVariant distinguishes success and failure toasts
type ToastVariant string

const (
	ToastDefault     ToastVariant = "default"
	ToastDestructive ToastVariant = "destructive"
)

// Toast is a user-facing outcome report
type Toast struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Variant     ToastVariant `json:"variant"`
	TenantID    string       `json:"tenant_id,omitempty"`
}

// Notifier delivers toasts. Delivery is fire-and-forget: Notify never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, toast Toast)
}

// LogNotifier writes toasts to the structured log
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier over logger, or the default logger when nil
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the toast
func (n *LogNotifier) Notify(ctx context.Context, toast Toast) {
	level := slog.LevelInfo
	if toast.Variant == ToastDestructive {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, "toast", "title", toast.Title, "description", toast.Description, "tenant_id", toast.TenantID)
}

// MultiNotifier fans a toast out to several notifiers
type MultiNotifier []Notifier

// Notify forwards to every notifier
func (m MultiNotifier) Notify(ctx context.Context, toast Toast) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, toast)
		}
	}
}

// webhookPayload is accepted by Slack and Teams incoming webhooks
type webhookPayload struct {
	Text    string       `json:"text"`
	Variant ToastVariant `json:"variant,omitempty"`
}

// WebhookNotifier posts toasts to an incoming webhook from a background worker.
// Sends are rate limited; toasts that do not fit in the queue are dropped.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	queue   chan Toast

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWebhookNotifier starts a notifier that sends at most perMinute toasts a minute
func NewWebhookNotifier(url string, perMinute int) *WebhookNotifier {
	if perMinute <= 0 {
		perMinute = 30
	}
	n := &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		queue:   make(chan Toast, 100),
		done:    make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Notify queues the toast without blocking
func (n *WebhookNotifier) Notify(_ context.Context, toast Toast) {
	select {
	case <-n.done:
		return
	default:
	}

	select {
	case n.queue <- toast:
	default:
		slog.Warn("notification queue full, dropping toast", "title", toast.Title)
	}
}

// Close stops the worker after the queued toasts are sent
func (n *WebhookNotifier) Close() {
	n.closeOnce.Do(func() {
		close(n.done)
		n.wg.Wait()
	})
}

func (n *WebhookNotifier) run() {
	defer n.wg.Done()
	ctx := context.Background()

	for {
		select {
		case toast := <-n.queue:
			n.deliver(ctx, toast)
		case <-n.done:
			for {
				select {
				case toast := <-n.queue:
					n.deliver(ctx, toast)
				default:
					return
				}
			}
		}
	}
}

func (n *WebhookNotifier) deliver(ctx context.Context, toast Toast) {
	if err := n.limiter.Wait(ctx); err != nil {
		return
	}
	if err := n.send(ctx, toast); err != nil {
		slog.Warn("failed to deliver toast", "title", toast.Title, "error", err)
	}
}

func (n *WebhookNotifier) send(ctx context.Context, toast Toast) error {
	text := "*" + toast.Title + "*"
	if toast.Description != "" {
		text += "\n" + toast.Description
	}
	body, err := json.Marshal(webhookPayload{Text: text, Variant: toast.Variant})
	if err != nil {
		return fmt.Errorf("failed to encode toast: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
