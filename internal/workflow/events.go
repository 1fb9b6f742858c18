package workflow

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Event types for the session log.
const (
	EventTransition   = "transition"
	EventProducerCall = "producer_call"
	EventCacheHit     = "cache_hit"
	EventSuspension   = "suspension"
	EventResume       = "resume"
	EventFailure      = "failure"
	EventInvalidation = "invalidation"
	EventConfirmation = "confirmation"
)

// Event is a single entry in the session's forensic log.
type Event struct {
	Seq       uint64            `json:"seq"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Stage     string            `json:"stage,omitempty"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Message   string            `json:"message,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// AppendEvent adds an event with automatic sequencing.
func (s *Session) AppendEvent(evt Event) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEventLocked(evt)
}

func (s *Session) appendEventLocked(evt Event) uint64 {
	s.seq++
	evt.Seq = s.seq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	s.events = append(s.events, evt)
	s.UpdatedAt = time.Now()
	return evt.Seq
}

// Events returns a copy of the event log.
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// JSONL record discrimination for the streamed session log.
const (
	recordHeader = "header"
	recordEvent  = "event"
	recordFooter = "footer"
)

type jsonlRecord struct {
	RecordType string `json:"_type"`

	// Header
	ID        string    `json:"id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	// Event
	*Event `json:",omitempty"`

	// Footer
	State     string    `json:"state,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// LogStore persists session event logs as JSONL, one file per session:
// a header line, one line per event, and a footer with the final state.
type LogStore struct {
	dir string
}

// NewLogStore creates a log store rooted at dir.
func NewLogStore(dir string) (*LogStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating session log directory: %w", err)
	}
	return &LogStore{dir: dir}, nil
}

// Save writes the session's event log.
func (ls *LogStore) Save(s *Session) error {
	path := filepath.Join(ls.dir, s.ID+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating session log: %w", err)
	}
	defer f.Close()

	if err := writeLine(f, jsonlRecord{RecordType: recordHeader, ID: s.ID, CreatedAt: s.CreatedAt}); err != nil {
		return err
	}
	for _, evt := range s.Events() {
		cp := evt
		if err := writeLine(f, jsonlRecord{RecordType: recordEvent, Event: &cp}); err != nil {
			return err
		}
	}
	return writeLine(f, jsonlRecord{
		RecordType: recordFooter,
		State:      string(s.State()),
		UpdatedAt:  s.UpdatedAt,
	})
}

func writeLine(w io.Writer, record jsonlRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling log record: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// LoadedLog is a session log read back for inspection.
type LoadedLog struct {
	ID         string
	CreatedAt  time.Time
	Events     []Event
	FinalState string
	UpdatedAt  time.Time
}

// Load reads a session log by ID.
func (ls *LogStore) Load(id string) (*LoadedLog, error) {
	f, err := os.Open(filepath.Join(ls.dir, id+".jsonl"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	log := &LoadedLog{}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if parseErr := parseLine(bytes.TrimSpace(line), log); parseErr != nil {
				return nil, parseErr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading session log: %w", err)
		}
	}
	return log, nil
}

func parseLine(line []byte, log *LoadedLog) error {
	var record jsonlRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("parsing log line: %w", err)
	}
	switch record.RecordType {
	case recordHeader:
		log.ID = record.ID
		log.CreatedAt = record.CreatedAt
	case recordEvent:
		if record.Event != nil {
			log.Events = append(log.Events, *record.Event)
		}
	case recordFooter:
		log.FinalState = record.State
		log.UpdatedAt = record.UpdatedAt
	}
	return nil
}
