// Package interactionlog keeps the append-only audit trail of every model
// prompt and response.
package interactionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"transfer-advisor/internal/common/logger"
)

const (
	EventPrompt   = "prompt"
	EventResponse = "response"

	fileTimeLayout = "2006-01-02_15-04-05"
)

// Record is one line of the interaction log.
type Record struct {
	Timestamp     time.Time              `json:"timestamp"`
	InteractionID int64                  `json:"interaction_id"`
	Event         string                 `json:"event"`
	Component     string                 `json:"component"`
	Method        string                 `json:"method"`
	Model         string                 `json:"model"`
	Success       *bool                  `json:"success,omitempty"`
	Input         interface{}            `json:"input,omitempty"`
	Output        string                 `json:"output,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Sink persists records. Implementations must be safe for concurrent use.
type Sink interface {
	Write(rec Record) error
	Close() error
}

// FileSink appends newline-delimited JSON to one file per process.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	path string
}

func OpenFileSink(dir string, now time.Time) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create interaction log dir: %w", err)
	}
	path := filepath.Join(dir, now.Format(fileTimeLayout)+"_interaction.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open interaction log: %w", err)
	}
	return &FileSink{f: f, enc: json.NewEncoder(f), path: path}, nil
}

func (s *FileSink) Path() string {
	return s.path
}

func (s *FileSink) Write(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// MemorySink keeps records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemorySink) Close() error { return nil }

func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *MemorySink) ByInteraction(id int64) []Record {
	var out []Record
	for _, r := range s.Records() {
		if r.InteractionID == id {
			out = append(out, r)
		}
	}
	return out
}

type nopSink struct{}

func (nopSink) Write(Record) error { return nil }
func (nopSink) Close() error       { return nil }

// Logger assigns interaction ids and writes prompt/response pairs to a Sink.
// Sink failures are reported through the structured logger and never
// returned to callers.
type Logger struct {
	sink   Sink
	log    logger.Logger
	nextID atomic.Int64
	now    func() time.Time
}

func New(sink Sink, log logger.Logger) *Logger {
	if sink == nil {
		sink = nopSink{}
	}
	return &Logger{
		sink: sink,
		log:  logger.Component(log, "interaction-log"),
		now:  time.Now,
	}
}

// Disabled returns a Logger that still hands out ids but stores nothing.
func Disabled() *Logger {
	return New(nil, nil)
}

// LogPrompt records the outgoing request and returns its interaction id.
func (l *Logger) LogPrompt(component, method, model string, input interface{}, metadata map[string]interface{}) int64 {
	id := l.nextID.Add(1)
	l.write(Record{
		Timestamp:     l.now().UTC(),
		InteractionID: id,
		Event:         EventPrompt,
		Component:     component,
		Method:        method,
		Model:         model,
		Input:         input,
		Metadata:      metadata,
	})
	return id
}

func (l *Logger) LogResponse(id int64, component, method, model string, success bool, output, errMsg string, metadata map[string]interface{}) {
	l.write(Record{
		Timestamp:     l.now().UTC(),
		InteractionID: id,
		Event:         EventResponse,
		Component:     component,
		Method:        method,
		Model:         model,
		Success:       &success,
		Output:        output,
		Error:         errMsg,
		Metadata:      metadata,
	})
}

func (l *Logger) write(rec Record) {
	if err := l.sink.Write(rec); err != nil {
		l.log.Error("failed to write interaction record", map[string]interface{}{
			"interaction_id": rec.InteractionID,
			"event":          rec.Event,
			"error":          err.Error(),
		})
	}
}

func (l *Logger) Close() error {
	return l.sink.Close()
}
