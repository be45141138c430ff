package treemgr

import (
	"reflect"
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/joshuapare/datatree/errs"
	"github.com/joshuapare/datatree/node"
	"github.com/joshuapare/datatree/props"
	"github.com/joshuapare/datatree/snapshot"
	"github.com/joshuapare/datatree/value"
)

// DataChangedFlags is the XOR-style diff emitted on a Reference change
// (spec.md §4.8).
type DataChangedFlags uint8

const (
	ChangedIsPersistent DataChangedFlags = 1 << iota
	ChangedProperties
	ChangedValue
	ChangedTimestamp
	ChangedIsHealthy
	ChangedInitialUpdate
)

// ReferenceListener receives a ReferenceSnapshot and the flags describing
// what changed relative to the previous notification.
type ReferenceListener[T any] func(snap snapshot.ReferenceSnapshot, flags DataChangedFlags)

// Reference is a long-lived typed handle to the value at a fixed path: it
// automatically rebinds across destroy/create cycles of its target
// (spec.md §3.1 component H, §4.8).
type Reference[T any] struct {
	mgr  *Manager
	path string
	typ  reflect.Type
	init T

	mu         sync.Mutex
	bound      *value.Value
	unsub      func()
	healthy    bool
	timestamp  time.Time
	properties props.Properties

	listenersMu sync.Mutex
	listeners   []ReferenceListener[T]

	disposed bool
}

// GetData constructs a Reference[T] at path relative to root, managed by
// m: under Sync, it resolves or creates the dummy path to the target,
// binds if a compatible value exists, mirrors its state, and registers
// with the tree manager (spec.md §4.8 construction). init is stored on the
// reference but never surfaced: snapshots of an unhealthy reference carry
// no payload and Read fails, rather than returning init.
func GetData[T any](m *Manager, root *node.Node, p string, init T) (*Reference[T], error) {
	m.Lock()
	defer m.Unlock()

	r := &Reference[T]{mgr: m, path: p, typ: typeOf[T](), init: init}
	owner, leaf, err := root.ResolveForReference(p)
	if err != nil {
		return nil, err
	}
	r.bindAt(owner, leaf)
	registerBinding(m, r)
	return r, nil
}

func (r *Reference[T]) bindAt(owner *node.Node, leaf string) {
	v, ok := owner.Values.BindForReference(leaf, r.typ)
	if !ok {
		r.mu.Lock()
		r.healthy = false
		r.bound = nil
		r.mu.Unlock()
		return
	}
	r.attach(v)
}

func (r *Reference[T]) attach(v *value.Value) {
	wr := weak.Make(r)
	unsub := v.Subscribe(func(snap snapshot.ValueSnapshot, flags value.ChangeFlags) {
		if rr := wr.Value(); rr != nil {
			rr.onValueChanged(snap, flags)
		}
	})

	r.mu.Lock()
	r.bound = v
	r.unsub = unsub
	r.healthy = true
	r.timestamp = v.Timestamp()
	r.properties = v.Properties()
	r.mu.Unlock()

	v.NotifyInitial(r.mgr.host, func(snap snapshot.ValueSnapshot, flags value.ChangeFlags) {
		r.onValueChanged(snap, flags)
	})
}

func (r *Reference[T]) onValueChanged(snap snapshot.ValueSnapshot, flags value.ChangeFlags) {
	r.mu.Lock()
	r.timestamp = snap.Timestamp
	r.properties = snap.Properties
	r.mu.Unlock()
	r.fire(translateValueFlags(flags))
}

func translateValueFlags(f value.ChangeFlags) DataChangedFlags {
	var out DataChangedFlags
	if f&value.ChangeValue != 0 {
		out |= ChangedValue
	}
	if f&value.ChangeTimestamp != 0 {
		out |= ChangedTimestamp
	}
	if f&value.ChangeProperties != 0 {
		out |= ChangedProperties | ChangedIsPersistent
	}
	if f&value.ChangeInitialUpdate != 0 {
		out |= ChangedInitialUpdate
	}
	return out
}

// refPath implements the treemgr.binding interface.
func (r *Reference[T]) refPath() string { return r.path }

// invalidate implements the treemgr.binding interface: it drops the
// binding, per spec.md §4.8 "the value's destroy or replace path calls
// the reference's invalidate hook under Sync".
func (r *Reference[T]) invalidate(notify bool) {
	r.mu.Lock()
	wasHealthy := r.healthy
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
	r.bound = nil
	r.healthy = false
	r.mu.Unlock()
	if notify && wasHealthy {
		r.fire(ChangedIsHealthy)
	}
}

// rebind implements the treemgr.binding interface: it re-resolves the
// reference's path against the current tree, called by Manager.Rebind
// after a structural mutation that could have re-created the target
// (spec.md §4.8 "the tree manager's update(r)").
func (r *Reference[T]) rebind() {
	root := r.mgr.rootNode()
	if root == nil {
		return
	}
	owner, leaf, err := root.ResolveForReference(r.path)
	if err != nil {
		return
	}
	wasHealthy := r.healthy
	r.bindAt(owner, leaf)
	if r.healthy && !wasHealthy {
		r.fire(ChangedIsHealthy)
	}
}

func (r *Reference[T]) snapshotLocked() snapshot.ReferenceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payload any
	healthy := r.healthy
	if healthy && r.bound != nil {
		payload = r.bound.Snapshot().Payload()
	} else {
		payload = r.init
	}
	return snapshot.NewReferenceSnapshot("", r.path, r.timestamp, r.properties, healthy, payload, func(v any) any { return v })
}

func (r *Reference[T]) fire(flags DataChangedFlags) {
	snap := r.snapshotLocked()
	r.listenersMu.Lock()
	ls := make([]ReferenceListener[T], 0, len(r.listeners))
	for _, l := range r.listeners {
		if l != nil {
			ls = append(ls, l)
		}
	}
	r.listenersMu.Unlock()
	host := r.mgr.host
	for _, l := range ls {
		l := l
		if host == nil {
			l(snap, flags)
			continue
		}
		host.EnqueueMethod(func() { l(snap, flags) })
	}
}

// Subscribe registers l for future Changed notifications, delivering an
// initial snapshot with ChangedInitialUpdate first (spec.md §4.8).
func (r *Reference[T]) Subscribe(l ReferenceListener[T]) (unsubscribe func()) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	idx := len(r.listeners) - 1
	r.listenersMu.Unlock()

	snap := r.snapshotLocked()
	allFlags := ChangedInitialUpdate | ChangedIsPersistent | ChangedProperties | ChangedValue | ChangedTimestamp | ChangedIsHealthy
	if r.mgr.host == nil {
		l(snap, allFlags)
	} else {
		r.mgr.host.EnqueueMethod(func() { l(snap, allFlags) })
	}
	return func() {
		r.listenersMu.Lock()
		defer r.listenersMu.Unlock()
		if idx < len(r.listeners) {
			r.listeners[idx] = nil
		}
	}
}

// Path returns the reference's fixed target path.
func (r *Reference[T]) Path() string { return r.path }

// IsHealthy reports whether a binding currently exists, dummy or regular.
func (r *Reference[T]) IsHealthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthy
}

// HasValue reports whether the reference is healthy and bound to a
// regular (non-dummy) value.
func (r *Reference[T]) HasValue() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthy && r.bound != nil && !r.bound.IsDummy()
}

// Read returns the mirrored payload. Fails with DataValueReferenceBroken
// if the reference is unhealthy, and with DataValueDoesNotExist
// (errs.KindValueNotFound) if it is bound to a dummy placeholder.
func (r *Reference[T]) Read() (T, error) {
	var zero T
	r.mu.Lock()
	bound := r.bound
	healthy := r.healthy
	r.mu.Unlock()
	if !healthy || bound == nil {
		return zero, errs.New(errs.KindReferenceBroken, "reference at "+r.path+" has no live binding")
	}
	return value.ReadTyped[T](bound)
}

// Write writes through to the bound value. Fails with
// DataValueReferenceBroken if unhealthy (spec.md §4.8 "setting value...
// requires a healthy binding").
func (r *Reference[T]) Write(in T) error {
	r.mu.Lock()
	bound := r.bound
	healthy := r.healthy
	r.mu.Unlock()
	if !healthy || bound == nil {
		return errs.New(errs.KindReferenceBroken, "reference at "+r.path+" has no live binding")
	}
	value.WriteTyped(bound, r.mgr.host, in)
	return nil
}

// WriteProperties writes through to the bound value's properties.
func (r *Reference[T]) WriteProperties(p props.Properties) error {
	r.mu.Lock()
	bound := r.bound
	healthy := r.healthy
	r.mu.Unlock()
	if !healthy || bound == nil {
		return errs.New(errs.KindReferenceBroken, "reference at "+r.path+" has no live binding")
	}
	return bound.WriteProperties(r.mgr.host, p)
}

// SetPersistent toggles Persistent on the bound value.
func (r *Reference[T]) SetPersistent(on bool) error {
	r.mu.Lock()
	bound := r.bound
	healthy := r.healthy
	r.mu.Unlock()
	if !healthy || bound == nil {
		return errs.New(errs.KindReferenceBroken, "reference at "+r.path+" has no live binding")
	}
	return bound.SetPersistent(r.mgr.host, on)
}

// Dispose unsubscribes and unregisters the reference. Idempotent under
// Sync (spec.md §4.8).
func (r *Reference[T]) Dispose() {
	r.mgr.Lock()
	defer r.mgr.Unlock()
	if r.disposed {
		return
	}
	r.disposed = true
	r.invalidate(false)
	r.mgr.unregisterPath(r.path, r)
}

// registerBinding inserts a weak registration for r, following the
// spec's "tree manager holds weak pointers to references" contract
// (spec.md §4.7/§4.8). A generic free function rather than a Manager
// method, since Go methods cannot introduce their own type parameters and
// weak.Make needs the concrete *Reference[T] to build a typed weak
// pointer.
func registerBinding[T any](m *Manager, r *Reference[T]) {
	wp := weak.Make(r)
	p := r.refPath()
	getter := func() (binding, bool) {
		v := wp.Value()
		if v == nil {
			return nil, false
		}
		return v, true
	}
	reg := &registration{path: p, get: getter}
	m.refs[p] = append(m.refs[p], reg)
	runtime.AddCleanup(r, func(cleanupPath string) {
		m.pruneDeadRegistration(cleanupPath)
	}, p)
}

func (m *Manager) unregisterPath(p string, target binding) {
	bucket := m.refs[p]
	kept := bucket[:0]
	for _, reg := range bucket {
		if b, ok := reg.get(); ok && b != target {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(m.refs, p)
		m.cleanupChain(p)
	} else {
		m.refs[p] = kept
	}
}

func (m *Manager) pruneDeadRegistration(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.refs[p]
	live := bucket[:0]
	for _, reg := range bucket {
		if _, ok := reg.get(); ok {
			live = append(live, reg)
		}
	}
	if len(live) == 0 {
		delete(m.refs, p)
		m.cleanupChain(p)
	} else {
		m.refs[p] = live
	}
}
