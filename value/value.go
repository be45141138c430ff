// Package value implements the value entity (spec.md §3.1, §4.3): a named,
// typed, timestamped datum with properties and change events.
//
// Value deliberately knows nothing about node.Node: it reaches its
// containing node only through the small Ancestry interface, which the
// node package's *Node implements. This breaks what would otherwise be an
// import cycle between value and node while preserving the spec's
// regularize/propagate-on-write coupling (I2, I3).
package value

import (
	"reflect"
	"sync"
	"time"

	"github.com/joshuapare/datatree/dispatch"
	"github.com/joshuapare/datatree/errs"
	"github.com/joshuapare/datatree/props"
	"github.com/joshuapare/datatree/snapshot"
)

// Ancestry is the subset of node.Node a Value needs to honor I2/I3: when a
// dummy value is regularized, or a value gains Persistent, the change must
// propagate up the parent chain.
type Ancestry interface {
	// RegularizeChain promotes this node and every ancestor to regular,
	// following I2.
	RegularizeChain()
	// PropagatePersistent sets Persistent on this node and every ancestor,
	// following I3.
	PropagatePersistent()
}

// ChangeFlags is the XOR-style diff emitted on a Value write (spec.md
// §4.3).
type ChangeFlags uint8

const (
	ChangeName ChangeFlags = 1 << iota
	ChangePath
	ChangeProperties
	ChangeValue
	ChangeTimestamp
	ChangeInitialUpdate
)

// Listener receives a ValueSnapshot and the flags describing what changed
// relative to the previous notification.
type Listener func(snap snapshot.ValueSnapshot, flags ChangeFlags)

// Value is a named, typed, timestamped datum. All mutation happens under
// the owning tree's Sync lock (enforced by callers in package node /
// treemgr); Value itself holds no lock of its own beyond protecting its
// listener slice, which can be appended to from outside Sync (subscription
// is not itself a structural mutation).
type Value struct {
	name       string
	path       string
	nameLower  string // precomputed comparison key, hivekit KeyMeta.NameLower style
	typ        reflect.Type
	payload    any
	timestamp  time.Time
	properties props.Properties

	ancestry Ancestry
	copyFunc snapshot.CopyFunc

	listenersMu sync.Mutex
	listeners   []Listener
}

// New constructs a Value. typ fixes T for the value's lifetime (I6).
// cp deep-copies a payload of type typ; it must not be nil.
func New(name, path string, typ reflect.Type, initial any, p props.Properties, ancestry Ancestry, cp snapshot.CopyFunc) *Value {
	return &Value{
		name:       name,
		path:       path,
		nameLower:  lower(name),
		typ:        typ,
		payload:    initial,
		timestamp:  time.Now().UTC(),
		properties: p,
		ancestry:   ancestry,
		copyFunc:   cp,
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

func (v *Value) Name() string            { return v.name }
func (v *Value) NameLower() string       { return v.nameLower }
func (v *Value) Path() string            { return v.path }
func (v *Value) Type() reflect.Type      { return v.typ }
func (v *Value) Timestamp() time.Time    { return v.timestamp }
func (v *Value) Properties() props.Properties { return v.properties }
func (v *Value) IsDummy() bool           { return v.properties.IsDummy() }
func (v *Value) IsDetached() bool        { return v.properties.IsDetached() }
func (v *Value) IsPersistent() bool      { return v.properties.IsPersistent() }

// SetPathAndName updates the cached path/name during a rename/re-parent
// (spec.md §4.4 rename). Returns whether anything changed, for the
// caller's Name/Path change-flag computation.
func (v *Value) SetPathAndName(name, path string) (nameChanged, pathChanged bool) {
	nameChanged = v.name != name
	pathChanged = v.path != path
	v.name = name
	v.nameLower = lower(name)
	v.path = path
	return
}

// Subscribe registers l for future notifications only; it delivers no
// initial snapshot. Callers that want one call NotifyInitial under the
// tree's lock, following the spec's "snapshot and enqueue atomically"
// contract (spec.md §5). The returned func unsubscribes.
func (v *Value) Subscribe(l Listener) (unsubscribe func()) {
	v.listenersMu.Lock()
	v.listeners = append(v.listeners, l)
	idx := len(v.listeners) - 1
	v.listenersMu.Unlock()
	return func() {
		v.listenersMu.Lock()
		defer v.listenersMu.Unlock()
		if idx < len(v.listeners) {
			v.listeners[idx] = nil
		}
	}
}

// notify posts snap/flags to every live listener via host (or runs
// inline if host is nil, used by tests that don't need dispatch).
func (v *Value) notify(host *dispatch.Host, snap snapshot.ValueSnapshot, flags ChangeFlags) {
	v.listenersMu.Lock()
	ls := make([]Listener, 0, len(v.listeners))
	for _, l := range v.listeners {
		if l != nil {
			ls = append(ls, l)
		}
	}
	v.listenersMu.Unlock()
	for _, l := range ls {
		l := l
		if host == nil {
			l(snap, flags)
			continue
		}
		host.EnqueueMethod(func() { l(snap, flags) })
	}
}

func (v *Value) snapshotLocked() snapshot.ValueSnapshot {
	return snapshot.NewValueSnapshot(v.name, v.path, v.timestamp, v.properties, v.payload, v.copyFunc)
}

// NotifyInitial builds and delivers the InitialUpdate snapshot for a
// freshly subscribed listener. Must be called with the tree's Sync held.
func (v *Value) NotifyInitial(host *dispatch.Host, l Listener) {
	snap := v.snapshotLocked()
	flags := ChangeInitialUpdate | ChangeName | ChangePath | ChangeProperties | ChangeValue | ChangeTimestamp
	if host == nil {
		l(snap, flags)
		return
	}
	host.EnqueueMethod(func() { l(snap, flags) })
}

// Read returns a deep copy of the payload. Fails with KindValueNotFound if
// the value is dummy (spec.md §4.3 read_value).
func (v *Value) Read() (any, error) {
	if v.properties.IsDummy() {
		return nil, errs.New(errs.KindValueNotFound, "value at "+v.path+" is a dummy placeholder")
	}
	return v.copyFunc(v.payload), nil
}

// ReadTyped type-asserts the result of Read.
func ReadTyped[T any](v *Value) (T, error) {
	var zero T
	raw, err := v.Read()
	if err != nil {
		return zero, err
	}
	t, ok := raw.(T)
	if !ok {
		return zero, errs.New(errs.KindTypeMismatch, "value at "+v.Path()+" does not hold the requested type")
	}
	return t, nil
}

// Write copies in and sets it as the payload, clearing Dummy (unless kept
// by keepDummy), regularizing and propagating persistence as needed, and
// always refreshing the timestamp (spec.md §4.3 write_value). It returns
// the flags changed relative to the prior state.
func (v *Value) Write(host *dispatch.Host, in any, keepDummy bool) ChangeFlags {
	wasDummy := v.properties.IsDummy()
	wasPersistent := v.properties.IsPersistent()

	newPayload := v.copyFunc(in)
	changed := !deepEqualPayload(v.payload, newPayload) || (wasDummy && !keepDummy)
	v.payload = newPayload

	if !keepDummy {
		v.properties = v.properties.Clear(props.Dummy)
	}
	if wasDummy && !v.properties.IsDummy() {
		v.ancestry.RegularizeChain()
		if v.properties.IsPersistent() {
			v.ancestry.PropagatePersistent()
		}
	}

	v.timestamp = time.Now().UTC()

	flags := ChangeTimestamp
	if changed {
		flags |= ChangeValue
	}
	if wasPersistent != v.properties.IsPersistent() {
		flags |= ChangeProperties
	}

	snap := v.snapshotLocked()
	v.notify(host, snap, flags)
	return flags
}

// WriteTyped is the generic convenience wrapper over Write used by
// node.SetValue and treemgr's Reference.Write; ReadTyped is its read-side
// counterpart.
func WriteTyped[T any](v *Value, host *dispatch.Host, in T) ChangeFlags {
	return v.Write(host, any(in), false)
}

// ReadProperties returns the value's properties.
func (v *Value) ReadProperties() props.Properties { return v.properties }

// WriteProperties accepts only user flags; administrative bits are
// preserved untouched (spec.md §4.3 write_properties).
func (v *Value) WriteProperties(host *dispatch.Host, p props.Properties) error {
	if !props.ValidateUser(p) {
		return errs.New(errs.KindArgument, "value properties contain administrative flags")
	}
	wasPersistent := v.properties.IsPersistent()
	admin := v.properties &^ props.UserMask
	v.properties = admin | (p & props.UserMask)
	if v.properties.IsPersistent() && !v.properties.IsDummy() {
		v.ancestry.PropagatePersistent()
	}

	var flags ChangeFlags
	if wasPersistent != v.properties.IsPersistent() {
		flags |= ChangeProperties
	}
	v.timestamp = time.Now().UTC()
	flags |= ChangeTimestamp
	v.notify(host, v.snapshotLocked(), flags)
	return nil
}

// SetPersistent is shorthand for toggling the Persistent bit, regularizing
// and propagating as Write does (spec.md §4.3 is_persistent toggle).
func (v *Value) SetPersistent(host *dispatch.Host, on bool) error {
	p := v.properties & props.UserMask
	if on {
		p = p.Set(props.Persistent)
	} else {
		p = p.Clear(props.Persistent)
	}
	return v.WriteProperties(host, p)
}

// Set is the atomic value+properties write (spec.md §4.3 set). When a flag
// appears in both toSet and toClear, "set" wins. Dummy is cleared unless
// toSet explicitly reasserts it.
func (v *Value) Set(host *dispatch.Host, in any, toSet, toClear props.Properties) error {
	wasDummy := v.properties.IsDummy()
	wasPersistent := v.properties.IsPersistent()

	newPayload := v.copyFunc(in)
	changed := !deepEqualPayload(v.payload, newPayload)
	v.payload = newPayload

	v.properties = props.Apply(v.properties, toSet, toClear)
	if !toSet.IsDummy() {
		v.properties = v.properties.Clear(props.Dummy)
	}

	if wasDummy && !v.properties.IsDummy() {
		v.ancestry.RegularizeChain()
		if v.properties.IsPersistent() {
			v.ancestry.PropagatePersistent()
		}
	}

	v.timestamp = time.Now().UTC()

	flags := ChangeTimestamp
	if changed || (wasDummy != v.properties.IsDummy()) {
		flags |= ChangeValue
	}
	if wasPersistent != v.properties.IsPersistent() {
		flags |= ChangeProperties
	}
	v.notify(host, v.snapshotLocked(), flags)
	return nil
}

// MarkDetached sets Detached on v, terminal per I7. Must be called by the
// owning collection during removal; no further mutation may alter v's
// observed attributes afterward (the caller is responsible for that).
func (v *Value) MarkDetached(host *dispatch.Host) {
	v.properties = v.properties.Set(props.Detached)
	v.notify(host, v.snapshotLocked(), ChangeProperties)
}

// Snapshot returns the current immutable view, for callers outside the
// write path (e.g. a reference mirroring state).
func (v *Value) Snapshot() snapshot.ValueSnapshot {
	return v.snapshotLocked()
}

func deepEqualPayload(a, b any) bool {
	type comparable interface{ Equal(any) bool }
	if ce, ok := a.(comparable); ok {
		return ce.Equal(b)
	}
	return reflectDeepEqual(a, b)
}
