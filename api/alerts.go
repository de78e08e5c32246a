package api

import (
	"log/slog"
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertBulkDownload      AlertType = "bulk_download"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// logAlert is the AlertFunc used when none is configured.
func logAlert(logger *slog.Logger) AlertFunc {
	return func(e AlertEvent) {
		logger.Warn("anomaly detected",
			"type", string(e.Type), "count", e.Count, "threshold", e.Threshold)
	}
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultDownloadWindow        = 5 * time.Minute
	defaultDownloadThreshold     = 30
)

// window counts events over a sliding period and fires once the threshold
// is reached. The count restarts after each alert.
type window struct {
	events    []time.Time
	period    time.Duration
	threshold int
	alert     AlertType
	message   string
}

func (w *window) add(now time.Time) (AlertEvent, bool) {
	w.events = append(w.events, now)
	cutoff := now.Add(-w.period)
	start := 0
	for start < len(w.events) && w.events[start].Before(cutoff) {
		start++
	}
	w.events = w.events[start:]
	if len(w.events) < w.threshold {
		return AlertEvent{}, false
	}
	e := AlertEvent{
		Type:      w.alert,
		Message:   w.message,
		Count:     len(w.events),
		Threshold: w.threshold,
		Timestamp: now,
	}
	w.events = w.events[:0]
	return e, true
}

// alertMonitor watches server-wide rates of failed logins and full vault
// downloads. A spike in either suggests credential stuffing or scraping.
type alertMonitor struct {
	mu        sync.Mutex
	logins    window
	downloads window
	alertFn   AlertFunc
	now       func() time.Time
}

func newAlertMonitor(alertFn AlertFunc) *alertMonitor {
	return &alertMonitor{
		logins: window{
			period:    defaultLoginFailureWindow,
			threshold: defaultLoginFailureThreshold,
			alert:     AlertLoginFailureSpike,
			message:   "login failure rate exceeds threshold",
		},
		downloads: window{
			period:    defaultDownloadWindow,
			threshold: defaultDownloadThreshold,
			alert:     AlertBulkDownload,
			message:   "full entry download rate exceeds threshold",
		},
		alertFn: alertFn,
		now:     time.Now,
	}
}

func (m *alertMonitor) loginFailed() {
	if m != nil {
		m.record(&m.logins)
	}
}

func (m *alertMonitor) entriesListed() {
	if m != nil {
		m.record(&m.downloads)
	}
}

func (m *alertMonitor) record(w *window) {
	if m.alertFn == nil {
		return
	}
	m.mu.Lock()
	e, fire := w.add(m.now())
	m.mu.Unlock()
	if fire {
		m.alertFn(e)
	}
}
