// Package audit keeps a local diagnostics journal of connect, load and
// transfer outcomes. Entries are hash-chained so an edited journal is
// detectable. Credential values are never journaled.
package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Kind identifies the operation an event describes.
type Kind string

const (
	KindConnect  Kind = "connect"
	KindLoad     Kind = "load"
	KindTransfer Kind = "transfer"
)

// Outcome is the result of the operation.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeFailed Outcome = "failed"
)

// Event is one journal entry. Seq, ID, Time, PrevHash and Hash are assigned
// by Store.Record.
type Event struct {
	Seq      uint64    `json:"seq"`
	ID       string    `json:"id"`
	Time     time.Time `json:"ts"`
	Kind     Kind      `json:"kind"`
	Platform string    `json:"platform"`
	// Target is the destination platform of a transfer.
	Target  string  `json:"target,omitempty"`
	Outcome Outcome `json:"outcome"`
	// Status is the backend HTTP status, 0 when no response was received.
	Status  int    `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	// Payload is the raw backend response body kept for diagnosis.
	Payload  json.RawMessage `json:"payload,omitempty"`
	PrevHash string          `json:"prev"`
	Hash     string          `json:"hash"`
}

// computeHash is SHA-256 over seq || id || ts || kind || platform || target
// || outcome || status || message || payload || prev.
func (e *Event) computeHash() string {
	h := sha256.New()

	var num [8]byte
	binary.BigEndian.PutUint64(num[:], e.Seq)
	h.Write(num[:])
	h.Write([]byte(e.ID))
	h.Write([]byte(e.Time.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(e.Kind))
	h.Write([]byte(e.Platform))
	h.Write([]byte(e.Target))
	h.Write([]byte(e.Outcome))
	binary.BigEndian.PutUint64(num[:], uint64(e.Status))
	h.Write(num[:])
	h.Write([]byte(e.Message))
	h.Write(e.Payload)
	h.Write([]byte(e.PrevHash))

	return hex.EncodeToString(h.Sum(nil))
}

// Valid reports whether the event's hash matches its contents.
func (e *Event) Valid() bool {
	return e.Hash == e.computeHash()
}
