// Package snapshot defines the immutable point-in-time views handed to
// event listeners and reference readers (spec.md §3.1, §4.2). A snapshot's
// payload slot holds the tree-internal instance until the first external
// read, at which point it is atomically replaced by a deep copy — so a
// listener that never reads Payload never pays for the copy, but two
// concurrent readers never race on the replacement.
package snapshot

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshuapare/datatree/props"
)

// CopyFunc deep-copies a payload of the tree's internal type. Supplied by
// the tree's codec (it is the only component that knows how to copy an
// arbitrary T).
type CopyFunc func(any) any

type payloadBox struct {
	value    any
	copied   bool
	copyFunc CopyFunc
}

// Payload is the single-shot, race-safe payload slot shared by all
// snapshot kinds.
type Payload struct {
	box atomic.Pointer[payloadBox]
	mu  sync.Mutex // serializes the one-time copy
}

// NewPayload records v as the tree-internal instance at the moment of
// capture. cp is used to produce an owned copy on first external read.
func NewPayload(v any, cp CopyFunc) *Payload {
	p := &Payload{}
	p.box.Store(&payloadBox{value: v, copyFunc: cp})
	return p
}

// Get returns the payload, replacing the tree-internal instance with a
// deep copy on the first call. Safe under concurrent callers: once the
// copy is installed, reads are a lock-free atomic load; before that, the
// first caller to take the mutex performs the copy and the rest read the
// copy it installed, so copyFunc runs at most once.
func (p *Payload) Get() any {
	cur := p.box.Load()
	if cur.copied || cur.copyFunc == nil {
		return cur.value
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cur = p.box.Load()
	if cur.copied {
		return cur.value
	}
	next := &payloadBox{value: cur.copyFunc(cur.value), copied: true}
	p.box.Store(next)
	return next.value
}

// NodeSnapshot is an immutable view of a node at a change moment.
type NodeSnapshot struct {
	Name       string
	Path       string
	Properties props.Properties
}

func (s NodeSnapshot) IsPersistent() bool { return s.Properties.IsPersistent() }
func (s NodeSnapshot) IsDummy() bool      { return s.Properties.IsDummy() }

// ValueSnapshot is an immutable view of a value at a change moment.
type ValueSnapshot struct {
	Name       string
	Path       string
	Timestamp  time.Time
	Properties props.Properties
	payload    *Payload
}

// NewValueSnapshot builds a ValueSnapshot whose Payload() defers the copy
// until first read.
func NewValueSnapshot(name, path string, ts time.Time, p props.Properties, v any, cp CopyFunc) ValueSnapshot {
	return ValueSnapshot{Name: name, Path: path, Timestamp: ts, Properties: p, payload: NewPayload(v, cp)}
}

// Payload returns the captured value, copying on first external read.
func (s ValueSnapshot) Payload() any {
	if s.payload == nil {
		return nil
	}
	return s.payload.Get()
}

func (s ValueSnapshot) IsPersistent() bool { return s.Properties.IsPersistent() }
func (s ValueSnapshot) IsDummy() bool      { return s.Properties.IsDummy() }
func (s ValueSnapshot) IsDetached() bool   { return s.Properties.IsDetached() }

// ReferenceSnapshot is an immutable view of a reference's mirrored state.
type ReferenceSnapshot struct {
	Name       string
	Path       string
	Timestamp  time.Time
	Properties props.Properties
	IsHealthy  bool
	payload    *Payload
}

// NewReferenceSnapshot builds a ReferenceSnapshot; Payload() is nil-safe
// for an unhealthy reference, which has no bound value to copy.
func NewReferenceSnapshot(name, path string, ts time.Time, p props.Properties, healthy bool, v any, cp CopyFunc) ReferenceSnapshot {
	var pl *Payload
	if healthy {
		pl = NewPayload(v, cp)
	}
	return ReferenceSnapshot{Name: name, Path: path, Timestamp: ts, Properties: p, IsHealthy: healthy, payload: pl}
}

func (s ReferenceSnapshot) Payload() any {
	if s.payload == nil {
		return nil
	}
	return s.payload.Get()
}

func (s ReferenceSnapshot) IsPersistent() bool { return s.Properties.IsPersistent() }
func (s ReferenceSnapshot) IsDummy() bool      { return s.Properties.IsDummy() }

// NodeDetail is a forensic, fuller view of a node than NodeSnapshot
// carries, built for operator inspection (e.g. the datatreectl dump
// command) rather than change notification. Never consumed internally.
type NodeDetail struct {
	NodeSnapshot
	ChildCount          int
	ValueCount          int
	AncestorsPersistent bool
}

// ValueDetail is a forensic view of a value, pairing its snapshot with
// its type tag for display. Never consumed internally.
type ValueDetail struct {
	ValueSnapshot
	TypeName string
}
