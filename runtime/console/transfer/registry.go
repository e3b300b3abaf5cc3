// Package transfer keeps the per-transfer state observed during a console
// session.
//
// The Registry merges partial update events into records keyed by transfer
// ID and exposes creation-ordered snapshots for rendering. It is owned by a
// single session and is not safe for concurrent use: the session controller
// applies every event from one goroutine.
//
// Ordering across events for the same ID is last-write-wins. A "submitted"
// update that arrives after a later "monitoring" update overwrites it; the
// registry does not try to repair producer or network reordering.
package transfer

import (
	"fmt"
	"sort"
	"time"

	"goa.design/txconsole/runtime/console/status"
)

type (
	// Meta is the transfer update payload carried by a stream event. Only
	// ID is required; every other field is applied only when supplied.
	Meta struct {
		// ID identifies the transfer attempt.
		ID string `json:"id"`
		// Label is an optional display name.
		Label string `json:"label,omitempty"`
		// TxIndex is the zero-based position of the transfer in the batch.
		TxIndex *int `json:"txIndex,omitempty"`
		// TxHash is the transaction hash once broadcast.
		TxHash string `json:"txHash,omitempty"`
		// Status is the transfer status code.
		Status status.Code `json:"status,omitempty"`
	}

	// Record is the merged state of one transfer.
	Record struct {
		// ID identifies the transfer attempt.
		ID string
		// Label is the producer supplied display name, empty when none was
		// ever received. See DisplayLabel.
		Label string
		// TxIndex is the zero-based batch position, nil until received.
		TxIndex *int
		// TxHash is the transaction hash, empty until broadcast.
		TxHash string
		// Status is the last received status code.
		Status status.Code
		// LastMessage is the last non-empty message received for the transfer.
		LastMessage string
		// CreatedAt is the timestamp of the first event carrying the ID.
		CreatedAt time.Time
		// UpdatedAt is the timestamp of the last event carrying the ID.
		UpdatedAt time.Time
	}

	// Registry is an in-memory store of transfer records.
	Registry struct {
		records map[string]*entry
		// next is the insertion sequence of the next new record.
		next uint64
	}

	entry struct {
		rec Record
		seq uint64
	}
)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*entry)}
}

// Upsert merges meta into the record identified by meta.ID, creating it on
// first observation. message and ts describe the carrying event. Fields of
// meta are only applied when non-empty so partial updates never erase data.
// Upsert returns false and leaves the registry untouched when meta.ID is
// empty.
func (r *Registry) Upsert(meta Meta, message string, ts time.Time) bool {
	if meta.ID == "" {
		return false
	}
	e, ok := r.records[meta.ID]
	if !ok {
		e = &entry{rec: Record{ID: meta.ID, CreatedAt: ts}, seq: r.next}
		r.next++
		r.records[meta.ID] = e
	}
	rec := &e.rec
	if meta.Label != "" {
		rec.Label = meta.Label
	}
	if meta.TxIndex != nil {
		idx := *meta.TxIndex
		rec.TxIndex = &idx
	}
	if meta.TxHash != "" {
		rec.TxHash = meta.TxHash
	}
	if meta.Status != "" {
		rec.Status = meta.Status
	}
	if message != "" {
		rec.LastMessage = message
	}
	rec.UpdatedAt = ts
	return true
}

// Get returns a copy of the record identified by id.
func (r *Registry) Get(id string) (Record, bool) {
	e, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return e.rec.clone(), true
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return len(r.records)
}

// Snapshot returns copies of all records ordered by CreatedAt, ties broken by
// insertion order. Snapshots are independent of later updates.
func (r *Registry) Snapshot() []Record {
	entries := make([]*entry, 0, len(r.records))
	for _, e := range r.records {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.Before(b.rec.CreatedAt)
		}
		return a.seq < b.seq
	})
	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = e.rec.clone()
	}
	return out
}

// Reset removes all records.
func (r *Registry) Reset() {
	r.records = make(map[string]*entry)
	r.next = 0
}

// DisplayLabel returns the record label, falling back to an ordinal derived
// from TxIndex and then to the ID.
func (rec Record) DisplayLabel() string {
	if rec.Label != "" {
		return rec.Label
	}
	if rec.TxIndex != nil {
		return fmt.Sprintf("Tx #%d", *rec.TxIndex+1)
	}
	return rec.ID
}

func (rec Record) clone() Record {
	if rec.TxIndex != nil {
		idx := *rec.TxIndex
		rec.TxIndex = &idx
	}
	return rec
}
