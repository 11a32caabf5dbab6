package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x402_audit.log")
	l, err := New(path)
	assert.NoError(t, err)

	decidedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.Record(Event{
		Timestamp: decidedAt,
		EventType: EventChallengeIssued,
		RequestID: "req-1",
		ClientIP:  "1.2.3.4",
		Data:      map[string]any{"price_usd": "0.075"},
	})
	l.Record(Event{
		EventType:     EventPaymentReceived,
		ClientIP:      "1.2.3.4",
		WalletAddress: "0xabc",
	})

	f, err := os.Open(path)
	assert.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var obj map[string]any
		assert.NoError(t, json.Unmarshal(scanner.Bytes(), &obj))
		lines = append(lines, obj)
	}
	assert.Len(t, lines, 2)

	assert.Equal(t, "challenge_issued", lines[0]["event_type"])
	assert.Equal(t, "req-1", lines[0]["request_id"])
	assert.Equal(t, "1.2.3.4", lines[0]["client_ip"])
	assert.Equal(t, "2025-06-01T12:00:00Z", lines[0]["timestamp"])
	assert.Equal(t, map[string]any{"price_usd": "0.075"}, lines[0]["data"])

	// Missing fields are filled in on write.
	assert.Equal(t, "payment_received", lines[1]["event_type"])
	assert.Equal(t, "0xabc", lines[1]["wallet_address"])
	assert.NotEmpty(t, lines[1]["request_id"])
	assert.NotEmpty(t, lines[1]["timestamp"])
}

func TestRecordToUnwritablePathDoesNotPanic(t *testing.T) {
	l := &Log{path: filepath.Join(t.TempDir(), "missing", "nested", "audit.log")}
	l.Record(Event{EventType: EventError, ClientIP: "1.2.3.4"})
}

func TestReadFiltersAndOrders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := New(path)
	assert.NoError(t, err)

	l.Record(Event{EventType: EventBlocked, ClientIP: "1.1.1.1"})
	l.Record(Event{EventType: EventChallengeIssued, ClientIP: "2.2.2.2"})
	l.Record(Event{EventType: EventPaymentReceived, ClientIP: "2.2.2.2"})

	events, err := Read(path, 0, "", "")
	assert.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, EventPaymentReceived, events[0].EventType)

	events, err = Read(path, 0, "", "2.2.2.2")
	assert.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = Read(path, 1, EventBlocked, "")
	assert.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "1.1.1.1", events[0].ClientIP)
}

func TestReadStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := New(path)
	assert.NoError(t, err)

	l.Record(Event{EventType: EventChallengeIssued, ClientIP: "1.1.1.1"})
	l.Record(Event{EventType: EventChallengeIssued, ClientIP: "1.1.1.1"})
	l.Record(Event{EventType: EventPaymentRejected, ClientIP: "1.1.1.1"})

	stats, err := ReadStats(path)
	assert.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEvents)
	assert.Equal(t, 2, stats.EventsByType[EventChallengeIssued])
	assert.Equal(t, 1, stats.EventsByType[EventPaymentRejected])

	// Missing file is empty, not an error.
	stats, err = ReadStats(filepath.Join(t.TempDir(), "nope.log"))
	assert.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEvents)
}
