// Package qlog is a minimal, RFT-flavored cousin of the teacher's
// qlog/qlogwriter packages: one JSON-lines file per connection,
// opened when RFT_QLOG_DIR is set, recording the events the connection
// reports (handshake completion, migration, peer and command errors,
// close) for offline debugging. Frame sends/acks and congestion window
// changes are not recorded. It intentionally doesn't adopt QUIC's qlog event
// vocabulary — RFT's event set is much smaller.
package qlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one line of the trace.
type Event struct {
	Time   time.Time      `json:"time"`
	CID    uint32         `json:"cid"`
	Kind   string         `json:"kind"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Trace writes Events to a single connection's qlog file.
type Trace struct {
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	cid  uint32
	id   uuid.UUID
}

// EnvDir is the environment variable naming the directory qlog files
// are written into; an empty value disables tracing entirely.
const EnvDir = "RFT_QLOG_DIR"

// NewFromEnv opens a Trace for connection cid under RFT_QLOG_DIR, or
// returns (nil, nil) if the variable is unset — callers should treat a
// nil *Trace as "tracing disabled" and skip all further calls.
func NewFromEnv(cid uint32) (*Trace, error) {
	dir := os.Getenv(EnvDir)
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	traceID := uuid.New()
	path := filepath.Join(dir, traceID.String()+".qlog.jsonl")
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Trace{f: f, enc: json.NewEncoder(f), cid: cid, id: traceID}, nil
}

// Record appends one event. A nil receiver is a silent no-op so call
// sites don't need to guard every call with "if trace != nil".
func (t *Trace) Record(kind string, detail map[string]any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.enc.Encode(Event{Time: time.Now(), CID: t.cid, Kind: kind, Detail: detail})
}

// Close closes the underlying file. A nil receiver is a no-op.
func (t *Trace) Close() error {
	if t == nil {
		return nil
	}
	return t.f.Close()
}
