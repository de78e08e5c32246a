package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_Record(t *testing.T) {
	var buf bytes.Buffer
	al := newAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)), nil)

	r := httptest.NewRequest("POST", "/entries", nil)
	al.log(AuditEntryCreated, r, "alice", slog.String("entry_id", "e-1"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "audit", rec["msg"])
	assert.Equal(t, "audit", rec["component"])
	assert.Equal(t, "entry_created", rec["event"])
	assert.Equal(t, "alice", rec["username"])
	assert.Equal(t, "e-1", rec["entry_id"])
	assert.Equal(t, r.RemoteAddr, rec["remote_addr"])
}

func TestAuditLogger_FeedsAlerts(t *testing.T) {
	var alerts []AlertEvent
	m := newAlertMonitor(func(e AlertEvent) { alerts = append(alerts, e) })
	m.logins.threshold = 2
	m.downloads.threshold = 1
	al := newAuditLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), m)
	r := httptest.NewRequest("POST", "/auth/login", nil)

	al.log(AuditLoginSuccess, r, "alice")
	al.log(AuditLoginFailure, r, "alice")
	assert.Empty(t, alerts)
	al.log(AuditLoginFailure, r, "bob")
	al.log(AuditEntriesListed, r, "alice")

	require.Len(t, alerts, 2)
	assert.Equal(t, AlertLoginFailureSpike, alerts[0].Type)
	assert.Equal(t, AlertBulkDownload, alerts[1].Type)
}
