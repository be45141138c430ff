// Package treemgr implements the per-tree manager and the long-lived,
// auto-rebinding reference entity (spec.md §3.1, §4.7, §4.8). The two
// live in one package: a Reference binds directly to a *value.Value and
// must re-resolve through the Manager's root under the same Sync lock on
// every structural mutation, a degree of coupling that would otherwise
// force an import cycle between a `ref` package and `treemgr`.
//
// Manager implements node.Registry, node.Locker, and node.Serializer so
// package node never imports treemgr (see node/node.go's package doc).
package treemgr

import (
	"context"
	"reflect"
	"sync"
	"weak"

	"github.com/joshuapare/datatree/dispatch"
	"github.com/joshuapare/datatree/node"
	"github.com/joshuapare/datatree/path"
	"github.com/joshuapare/datatree/props"
)

// Serializer copies payloads of the tree's value types, supplied by the
// codec (spec.md §4.7 "handle to the serializer").
type Serializer interface {
	CopyPayload(v any) any
}

// binding is the type-erased surface treemgr needs from a Reference[T],
// letting Manager hold one heterogeneous registry across every T
// instantiated in a given tree.
type binding interface {
	refPath() string
	invalidate(notify bool)
	rebind()
}

type registration struct {
	path string
	get  func() (binding, bool)
}

// Manager is the per-tree coordinator: it owns the tree's lock ("Sync"),
// a weak pointer to the root so it never extends the tree's lifetime, and
// the path -> weak-reference registry (spec.md §4.7). Lock and
// CheckPeriodically take Sync themselves; the node.Registry methods
// (UnbindBelow, InvalidateAt, Rebind, ScheduleCleanup, Rehome) and the
// unexported helpers assume the caller already holds it, mirroring the
// teacher's hive/tx.Manager begin/commit split (see SPEC_FULL.md §4.7).
type Manager struct {
	mu sync.Mutex

	serializer Serializer
	host       *dispatch.Host

	root weak.Pointer[node.Node]
	refs map[string][]*registration
}

// NewTree constructs a fresh root node named name under a brand-new
// Manager, wired to host for async dispatch and ser for payload copying
// (spec.md §3.4: every tree's root owns these collaborators).
func NewTree(name string, p props.Properties, ser Serializer, host *dispatch.Host) (*Manager, *node.Node) {
	m := &Manager{serializer: ser, host: host, refs: make(map[string][]*registration)}
	root := node.NewRoot(name, p, m, m, host, m)
	m.root = weak.Make(root)
	registerWithHost(host, m)
	return m, root
}

// registerWithHost adds m to host's periodic sweep via a weak pointer, so
// the host never extends the tree's lifetime (spec.md §4.9 "holds tree
// managers by weak references").
func registerWithHost(host *dispatch.Host, m *Manager) {
	if host == nil {
		return
	}
	wp := weak.Make(m)
	host.Register(func() (dispatch.Checkable, bool) {
		mm := wp.Value()
		if mm == nil {
			return nil, false
		}
		return mm, true
	})
}

// Lock/Unlock implement node.Locker: Manager itself is the tree's Sync.
func (m *Manager) Lock()   { m.mu.Lock() }
func (m *Manager) Unlock() { m.mu.Unlock() }

// CopyPayload implements node.Serializer by delegating to the tree's
// configured Serializer.
func (m *Manager) CopyPayload(v any) any { return m.serializer.CopyPayload(v) }

func (m *Manager) rootNode() *node.Node { return m.root.Value() }

// RootNode returns the tree's current root, or nil if it has been
// collected. Callers needing a stable reference should hold it only
// transiently under Lock/Unlock.
func (m *Manager) RootNode() *node.Node { return m.rootNode() }

// UnbindBelow implements node.Registry: it invalidates (without
// unregistering) every reference whose bucket path equals prefix or is
// nested under prefix+"/", removing those buckets, and returns opaque
// handles for a later Rebind call (spec.md §4.7
// unregister_references_below). Must be called with Sync held.
func (m *Manager) UnbindBelow(prefix string) []any {
	var handles []any
	for p, bucket := range m.refs {
		if p != prefix && !isUnder(p, prefix) {
			continue
		}
		for _, reg := range bucket {
			if b, ok := reg.get(); ok {
				b.invalidate(true)
				handles = append(handles, reg)
			}
		}
		delete(m.refs, p)
	}
	return handles
}

// InvalidateAt implements node.Registry: it invalidates (without
// unregistering) bindings whose bucket key is exactly path, used when a
// dummy value is replaced by an incompatible type (I6). Must be called
// with Sync held.
func (m *Manager) InvalidateAt(p string) {
	for _, reg := range m.refs[p] {
		if b, ok := reg.get(); ok {
			b.invalidate(true)
		}
	}
}

// Rebind implements node.Registry: for each handle returned by
// UnbindBelow, it re-resolves the reference against the current tree and
// re-inserts it into the bucket for its (possibly unchanged) path,
// creating dummy intermediates as needed (spec.md §4.7 update(r)). Must
// be called with Sync held.
func (m *Manager) Rebind(handles []any) {
	for _, h := range handles {
		reg, ok := h.(*registration)
		if !ok {
			continue
		}
		b, ok := reg.get()
		if !ok {
			continue
		}
		b.rebind()
		newPath := b.refPath()
		m.refs[newPath] = append(m.refs[newPath], reg)
	}
}

// ScheduleCleanup implements node.Registry: it eagerly attempts I5
// cleanup starting at path and walking toward the root (spec.md §4.7
// unregister_reference: "schedule dummy-path cleanup from the value
// upward"). Must be called with Sync held.
func (m *Manager) ScheduleCleanup(p string) {
	m.cleanupChain(p)
}

// Rehome implements node.Registry: n is being detached and becomes the
// root of its own subtree (spec.md §3.4, §5); it gets a fresh Manager
// that keeps using the SAME Locker (so the single-lock discipline
// survives the split) but starts with an empty reference registry of its
// own, since every reference that mattered to n's subtree was already
// collected and invalidated by the caller's UnbindBelow before Rehome
// runs.
func (m *Manager) Rehome(n *node.Node) node.Registry {
	fresh := &Manager{serializer: m.serializer, host: m.host, refs: make(map[string][]*registration)}
	fresh.root = weak.Make(n)
	registerWithHost(m.host, fresh)
	return fresh
}

// CheckPeriodically implements dispatch.Checkable: it prunes dead weak
// registrations across every bucket and runs I5 cleanup on any bucket
// that became empty, then reports whether the tree's root is still alive
// (spec.md §4.7 check_periodically).
func (m *Manager) CheckPeriodically(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.root.Value() == nil {
		return false
	}

	var emptied []string
	for p, bucket := range m.refs {
		live := bucket[:0]
		for _, reg := range bucket {
			if _, ok := reg.get(); ok {
				live = append(live, reg)
			}
		}
		if len(live) == 0 {
			delete(m.refs, p)
			emptied = append(emptied, p)
		} else {
			m.refs[p] = live
		}
	}
	for _, p := range emptied {
		m.cleanupChain(p)
	}
	return true
}

// cleanupChain removes the dummy entry at path, and walks its ancestors
// removing any that have become empty dummies in turn, stopping at the
// first live (regular, or still-referenced, or non-empty) ancestor
// (spec.md I5). Must be called with Sync held.
func (m *Manager) cleanupChain(p string) {
	root := m.rootNode()
	if root == nil {
		return
	}
	if p == path.Root {
		return
	}

	tokens, _, err := path.Parse(p)
	if err != nil || len(tokens) == 0 {
		return
	}
	leaf := tokens[len(tokens)-1].Name
	parentTokens := tokens[:len(tokens)-1]

	parent := root
	for _, tok := range parentTokens {
		child, ok := parent.Children.GetAny(tok.Name)
		if !ok {
			return
		}
		parent = child
	}

	// The leaf may be a node or a value; try both (they share no
	// namespace so at most one matches).
	if v, ok := parent.Values.GetAny(leaf); ok {
		if v.IsDummy() && len(m.refs[p]) == 0 {
			parent.Values.RemoveDummyEntry(v)
			m.cleanupChain(parent.Path())
		}
		return
	}
	if child, ok := parent.Children.GetAny(leaf); ok {
		if child.IsEmptyDummy() && len(m.refs[p]) == 0 {
			parent.Children.RemoveDummyEntry(child)
			m.cleanupChain(parent.Path())
		}
	}
}

func isUnder(candidate, prefix string) bool {
	if prefix == path.Root {
		return candidate != path.Root
	}
	return len(candidate) > len(prefix) && candidate[:len(prefix)] == prefix && candidate[len(prefix)] == path.Separator
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
