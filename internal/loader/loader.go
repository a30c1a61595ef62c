package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/majorcontext/portage/internal/audit"
	"github.com/majorcontext/portage/internal/backend"
	"github.com/majorcontext/portage/internal/credential"
	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/platform"
)

// ErrNoCredential is returned by Load when called without a credential.
var ErrNoCredential = errors.New("a credential is required to load data")

// ErrSuperseded is returned by Load when Clear or a newer Load ran while it
// was in flight. Its records are discarded.
var ErrSuperseded = errors.New("load superseded by a newer selection")

// Backend fetches raw load responses. *backend.Client satisfies it.
type Backend interface {
	Load(ctx context.Context, p platform.Platform, cred credential.Credential, id backend.Identity, out any) error
}

// Recorder journals outcomes. *audit.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event) (*audit.Event, error)
}

// Error is a failed load. Message is what the operator sees.
type Error struct {
	Platform platform.Platform
	Message  string
	Err      error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Loader loads records and holds the current set.
type Loader struct {
	backend  Backend
	recorder Recorder
	now      func() time.Time

	mu      sync.RWMutex
	current *RecordSet
	// gen advances on every Load and Clear. A load only lands if gen is
	// unchanged when it completes.
	gen uint64
}

// New creates a Loader. recorder may be nil.
func New(b Backend, recorder Recorder) *Loader {
	return &Loader{backend: b, recorder: recorder, now: time.Now}
}

// Load fetches p's records with cred. On success the result replaces the
// current set; on failure the current set is left as is. A load overtaken by
// Clear or a later Load returns ErrSuperseded.
func (l *Loader) Load(ctx context.Context, p platform.Platform, cred credential.Credential, id backend.Identity) (RecordSet, error) {
	if !p.Valid() {
		return RecordSet{}, fmt.Errorf("%w: %q", platform.ErrUnsupported, string(p))
	}
	if cred.Empty() {
		return RecordSet{}, ErrNoCredential
	}

	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	var raw json.RawMessage
	err := l.backend.Load(ctx, p, cred, id, &raw)
	if err == nil {
		var records []Record
		records, err = decodeRecords(raw)
		if err == nil {
			set := RecordSet{Platform: p, Records: records, LoadedAt: l.now()}
			l.mu.Lock()
			stale := l.gen != gen
			if !stale {
				l.current = &set
			}
			l.mu.Unlock()
			if stale {
				log.Debug("discarding superseded load", "platform", p, "count", len(records))
				return RecordSet{}, ErrSuperseded
			}

			log.Info("loaded records", "platform", p, "count", len(records))
			l.journal(p, "", nil)
			return set, nil
		}
	}

	lerr := &Error{Platform: p, Message: failureMessage(err), Err: err}
	log.Warn("load failed", "platform", p, "error", err)
	l.journal(p, lerr.Message, err)
	return RecordSet{}, lerr
}

// Clear discards the current set and any load still in flight. Clearing an
// empty loader is a no-op.
func (l *Loader) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = nil
	l.gen++
}

// Current returns the current set, if any.
func (l *Loader) Current() (RecordSet, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.current == nil {
		return RecordSet{}, false
	}
	return *l.current, true
}

// Groups returns the current set grouped by type.
func (l *Loader) Groups() []Group {
	set, ok := l.Current()
	if !ok {
		return nil
	}
	return GroupByType(set.Records)
}

func (l *Loader) journal(p platform.Platform, msg string, err error) {
	if l.recorder == nil {
		return
	}
	ev := audit.Event{Kind: audit.KindLoad, Platform: string(p), Outcome: audit.OutcomeOK}
	if err != nil {
		ev.Outcome = audit.OutcomeFailed
		ev.Message = msg
		ev.Status = backend.StatusCode(err)
	}
	if _, rerr := l.recorder.Record(context.Background(), ev); rerr != nil {
		log.Debug("journal write failed", "error", rerr)
	}
}

// errorResponse is the {"error": "..."} object some loaders answer with
// instead of a record array.
type errorResponse struct {
	Error string `json:"error"`
}

func decodeRecords(raw json.RawMessage) ([]Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Record{}, nil
	}
	if trimmed[0] == '{' {
		var er errorResponse
		if json.Unmarshal(trimmed, &er) == nil && er.Error != "" {
			return nil, errors.New(er.Error)
		}
		return nil, fmt.Errorf("unexpected load response: expected a list of records")
	}
	var records []Record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("parsing records: %w", err)
	}
	return records, nil
}

// failureMessage prefers the backend's detail over the generic message.
func failureMessage(err error) string {
	if msg := backend.Detail(err); msg != "" {
		return msg
	}
	return "Failed to load data"
}
