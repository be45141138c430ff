// Package node implements the node entity and its two collections
// (spec.md §3.1, §4.4, §4.5, §4.6): a named container of child nodes and
// values, with the dummy/regular and persistence-propagation invariants
// (I1-I4).
//
// Node never imports package treemgr. The "collect references -> mutate ->
// re-register" discipline required by rename/remove/copy/clear (spec.md
// §4.4-§4.6) is performed by Node calling through the small Registry
// interface below, which *treemgr.Manager implements; this keeps the
// import graph acyclic (treemgr depends on node, never the reverse) while
// preserving the coupling the spec describes.
package node

import (
	"sync"

	"github.com/joshuapare/datatree/dispatch"
	"github.com/joshuapare/datatree/errs"
	"github.com/joshuapare/datatree/path"
	"github.com/joshuapare/datatree/props"
	"github.com/joshuapare/datatree/snapshot"
)

// Locker is the tree-wide lock (spec.md §4.7 Sync). It is not reentrant.
// Node.Lock and ExecuteAtomically acquire it and assume it is not already
// held by the calling goroutine; most other Node methods document that the
// caller must already hold it (spec.md §5, implementation note in
// SPEC_FULL.md §5).
type Locker interface {
	Lock()
	Unlock()
}

// Serializer copies payloads of the tree's value types (spec.md §4.7
// "handle to the serializer").
type Serializer interface {
	CopyPayload(v any) any
}

// Registry is the reference-registry surface a Node needs from its tree
// manager during structural mutation (spec.md §4.7 register/unregister,
// §4.4/§4.5/§4.6 collect-unbind-mutate-rebind).
type Registry interface {
	// UnbindBelow unbinds (without unregistering) every reference whose
	// path equals or is nested under prefix, returning opaque handles the
	// caller must later pass to Rebind.
	UnbindBelow(prefix string) []any
	// Rebind re-establishes bindings for previously unbound handles,
	// creating dummy intermediates as needed (spec.md §4.7 update(r)).
	Rebind(handles []any)
	// InvalidateAt unbinds (without unregistering) any reference bound to
	// exactly path, used when a dummy value is replaced by an incompatible
	// type (I6).
	InvalidateAt(path string)
	// ScheduleCleanup asks the manager to consider path and its ancestors
	// for lazy dummy removal once their reference sets are empty (I5).
	ScheduleCleanup(path string)
	// Rehome transfers registry bookkeeping for the subtree rooted at n to
	// a new Registry, used when n is detached and becomes a fresh root
	// (spec.md §3.4, §5).
	Rehome(n *Node) Registry
}

// ChangeFlags mirrors value.ChangeFlags for node-level events (spec.md
// §4.4).
type ChangeFlags uint8

const (
	ChangeName ChangeFlags = 1 << iota
	ChangePath
	ChangeProperties
	ChangeInitialUpdate
)

// Listener receives a NodeSnapshot and the flags describing the change.
type Listener func(snap snapshot.NodeSnapshot, flags ChangeFlags)

// Node is a named container of child nodes and values.
type Node struct {
	name      string
	nameLower string
	parent    *Node
	properties props.Properties

	Children *NodeCollection
	Values   *ValueCollection

	registry   Registry
	sync       Locker
	host       *dispatch.Host
	serializer Serializer

	listenersMu sync.Mutex
	listeners   []Listener
}

// NewRoot constructs a fresh root node named name, wired to the given
// Registry/Locker/Host/Serializer (spec.md §3.4: every tree's root owns
// these collaborators; a detached subtree gets its own Registry but
// reuses Locker/Serializer).
func NewRoot(name string, p props.Properties, reg Registry, sync Locker, host *dispatch.Host, ser Serializer) *Node {
	n := &Node{
		name:       name,
		nameLower:  toLower(name),
		properties: p,
		registry:   reg,
		sync:       sync,
		host:       host,
		serializer: ser,
	}
	n.Children = newNodeCollection(n)
	n.Values = newValueCollection(n)
	return n
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

func (n *Node) Name() string       { return n.name }
func (n *Node) NameLower() string  { return n.nameLower }
func (n *Node) Parent() *Node      { return n.parent }
func (n *Node) IsRoot() bool       { return n.parent == nil }
func (n *Node) Properties() props.Properties { return n.properties }
func (n *Node) IsPersistent() bool { return n.properties.IsPersistent() }
func (n *Node) IsDummy() bool      { return n.properties.IsDummy() }

// Path recomputes the node's path by walking the parent chain, joining
// and escaping each ancestor's name (I4). It is not cached: rename and
// re-parenting would otherwise require a full-subtree cache invalidation
// walk on every structural change, and in exchange Path() costs O(depth).
func (n *Node) Path() string {
	if n.parent == nil {
		return path.Root
	}
	return path.Join(n.parent.Path(), n.name)
}

// Lock/Unlock expose the tree's shared Sync to callers (e.g. treemgr,
// datatree facade) that must hold it across multiple node/value
// operations (spec.md §4.4 execute_atomically).
func (n *Node) Lock()   { n.sync.Lock() }
func (n *Node) Unlock() { n.sync.Unlock() }

// ExecuteAtomically acquires Sync and invokes op exactly once (spec.md
// §4.4).
func (n *Node) ExecuteAtomically(op func()) {
	n.sync.Lock()
	defer n.sync.Unlock()
	op()
}

// RegularizeChain promotes n and every ancestor to regular (I2). It
// implements value.Ancestry and is also used directly by node/collection
// code. Must be called with Sync held.
func (n *Node) RegularizeChain() {
	for cur := n; cur != nil; cur = cur.parent {
		if !cur.properties.IsDummy() {
			return // already regular; by I2 so are all its ancestors
		}
		cur.properties = cur.properties.Clear(props.Dummy)
		cur.notify(ChangeProperties)
	}
}

// PropagatePersistent sets Persistent on n and every ancestor up to the
// root (I3). Must be called with Sync held.
func (n *Node) PropagatePersistent() {
	for cur := n; cur != nil; cur = cur.parent {
		if cur.properties.IsPersistent() {
			return
		}
		cur.properties = cur.properties.Set(props.Persistent)
		cur.notify(ChangeProperties)
	}
}

func (n *Node) notify(flags ChangeFlags) {
	snap := n.snapshotLocked()
	n.listenersMu.Lock()
	ls := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		if l != nil {
			ls = append(ls, l)
		}
	}
	n.listenersMu.Unlock()
	for _, l := range ls {
		l := l
		if n.host == nil {
			l(snap, flags)
			continue
		}
		n.host.EnqueueMethod(func() { l(snap, flags) })
	}
}

func (n *Node) snapshotLocked() snapshot.NodeSnapshot {
	return snapshot.NodeSnapshot{Name: n.name, Path: n.Path(), Properties: n.properties}
}

// Subscribe registers l for future Changed notifications. Must be called
// with Sync held so the first notification cannot race a concurrent
// mutation (spec.md §5).
func (n *Node) Subscribe(l Listener) (unsubscribe func()) {
	n.listenersMu.Lock()
	n.listeners = append(n.listeners, l)
	idx := len(n.listeners) - 1
	n.listenersMu.Unlock()
	snap := n.snapshotLocked()
	if n.host == nil {
		l(snap, ChangeInitialUpdate|ChangeName|ChangePath|ChangeProperties)
	} else {
		n.host.EnqueueMethod(func() {
			l(snap, ChangeInitialUpdate|ChangeName|ChangePath|ChangeProperties)
		})
	}
	return func() {
		n.listenersMu.Lock()
		defer n.listenersMu.Unlock()
		if idx < len(n.listeners) {
			n.listeners[idx] = nil
		}
	}
}

// WriteProperties accepts only user flags; administrative bits are
// preserved. Must be called with Sync held.
func (n *Node) WriteProperties(p props.Properties) error {
	if !props.ValidateUser(p) {
		return errs.New(errs.KindArgument, "node properties contain administrative flags")
	}
	admin := n.properties &^ props.UserMask
	was := n.properties.IsPersistent()
	n.properties = admin | (p & props.UserMask)
	if n.properties.IsPersistent() && !n.properties.IsDummy() {
		n.PropagatePersistent()
	}
	if was != n.properties.IsPersistent() {
		n.notify(ChangeProperties)
	}
	return nil
}

// SetPropertiesRecursively traverses the subtree rooted at n, computing
// each entry's new properties as (old &^ clear) | set (set wins ties),
// either top-down or bottom-up. Must be called with Sync held (spec.md
// §4.4).
func (n *Node) SetPropertiesRecursively(set, clear props.Properties, topDown bool) {
	apply := func(nd *Node) {
		was := nd.properties.IsPersistent()
		nd.properties = props.Apply(nd.properties, set&props.UserMask, clear&props.UserMask)
		if was != nd.properties.IsPersistent() {
			nd.notify(ChangeProperties)
		}
	}
	var walk func(nd *Node)
	walk = func(nd *Node) {
		if topDown {
			apply(nd)
		}
		for _, c := range nd.Children.regularInOrder() {
			walk(c)
		}
		for _, v := range nd.Values.regularInOrder() {
			np := props.Apply(v.ReadProperties(), set&props.UserMask, clear&props.UserMask)
			_ = v.WriteProperties(n.host, np)
		}
		if !topDown {
			apply(nd)
		}
	}
	walk(n)
}
