// Package audit appends one JSON line per terminal payment decision.
// Writes are fire and forget: a failed write is logged and swallowed, it
// never aborts the request pipeline.
package audit

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventPaymentReceived EventType = "payment_received"
	EventPaymentRejected EventType = "payment_rejected"
	EventChallengeIssued EventType = "challenge_issued"
	EventRateLimited     EventType = "rate_limited"
	EventBlocked         EventType = "blocked"
	EventHealthCritical  EventType = "health_critical"
	EventError           EventType = "error"
)

type Event struct {
	Timestamp     time.Time      `json:"timestamp"`
	EventType     EventType      `json:"event_type"`
	RequestID     string         `json:"request_id"`
	ClientIP      string         `json:"client_ip"`
	WalletAddress string         `json:"wallet_address,omitempty"`
	Data          map[string]any `json:"data"`
}

type Log struct {
	mu   sync.Mutex
	path string
}

func New(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Log{path: path}, nil
}

// NewRequestID returns a short unique id correlating every event of a
// single request.
func NewRequestID() string {
	return uuid.New().String()[:8]
}

// Record appends the event. The timestamp is set at decision time by the
// caller when present, otherwise captured here.
func (l *Log) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = NewRequestID()
	}
	if event.Data == nil {
		event.Data = map[string]any{}
	}

	line, err := json.Marshal(event)
	if err != nil {
		log.Printf("audit: marshal event: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("audit: open %s: %v", l.path, err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Printf("audit: write event: %v", err)
	}
}

// Stats summarises the log file for the operator CLI.
type Stats struct {
	TotalEvents  int               `json:"total_events"`
	EventsByType map[EventType]int `json:"events_by_type"`
	FirstEvent   string            `json:"first_event,omitempty"`
	LastEvent    string            `json:"last_event,omitempty"`
}

// Read returns up to max events, most recent first, optionally filtered by
// event type and client IP. Unparseable lines are skipped.
func Read(path string, max int, eventType EventType, clientIP string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if eventType != "" && event.EventType != eventType {
			continue
		}
		if clientIP != "" && event.ClientIP != clientIP {
			continue
		}
		events = append(events, event)
	}

	// Most recent first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	if max > 0 && len(events) > max {
		events = events[:max]
	}
	return events, nil
}

// ReadStats tallies the log file.
func ReadStats(path string) (*Stats, error) {
	events, err := Read(path, 0, "", "")
	if err != nil {
		return nil, err
	}

	stats := Stats{EventsByType: map[EventType]int{}}
	for _, event := range events {
		stats.TotalEvents++
		stats.EventsByType[event.EventType]++
	}
	if n := len(events); n > 0 {
		// Read returns newest first.
		stats.FirstEvent = events[n-1].Timestamp.Format(time.RFC3339)
		stats.LastEvent = events[0].Timestamp.Format(time.RFC3339)
	}
	return &stats, nil
}
