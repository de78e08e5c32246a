package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// webhookQueueSize bounds the outbound alert queue.
const webhookQueueSize = 256

// AlertWebhook POSTs alerts as JSON to an external endpoint. Notify never
// blocks: alerts are queued and sent by a background goroutine, and dropped
// when the queue is full.
type AlertWebhook struct {
	url        string
	authHeader string // "Header: Value", e.g. "Authorization: Bearer xxx"
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	events     chan AlertEvent
	wg         sync.WaitGroup
}

// NewAlertWebhook starts a dispatcher for url. authHeader is optional.
func NewAlertWebhook(url, authHeader string, logger *slog.Logger) *AlertWebhook {
	if logger == nil {
		logger = slog.Default()
	}
	w := &AlertWebhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		retryDelay: time.Second,
		events:     make(chan AlertEvent, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Notify queues e. It satisfies AlertFunc.
func (w *AlertWebhook) Notify(e AlertEvent) {
	select {
	case w.events <- e:
	default:
		w.logger.Warn("alert webhook: queue full, dropping alert", "type", string(e.Type))
	}
}

// Close sends whatever is queued and stops the dispatcher. Notify must not
// be called afterwards.
func (w *AlertWebhook) Close() {
	close(w.events)
	w.wg.Wait()
}

func (w *AlertWebhook) loop() {
	defer w.wg.Done()
	for e := range w.events {
		w.send(e)
	}
}

// send POSTs e with one retry on a 5xx or transport error.
func (w *AlertWebhook) send(e AlertEvent) {
	body, err := json.Marshal(e)
	if err != nil {
		w.logger.Warn("alert webhook: marshal failed", "error", err)
		return
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("alert webhook: request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "IronKey-Alert-Webhook/1.0")
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("alert webhook: request failed", "error", err, "attempt", attempt)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn("alert webhook: server error", "status", resp.StatusCode, "attempt", attempt)
		default:
			w.logger.Warn("alert webhook: rejected", "status", resp.StatusCode)
			return
		}
	}
}
