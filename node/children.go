package node

import (
	"fmt"
	"sync"

	"github.com/joshuapare/datatree/errs"
	"github.com/joshuapare/datatree/path"
	"github.com/joshuapare/datatree/props"
)

// CollectionAction identifies the kind of collection-level event fired by
// NodeCollection/ValueCollection (spec.md §4.5).
type CollectionAction int

const (
	ActionInitialUpdate CollectionAction = iota
	ActionAdded
	ActionRemoved
)

// NodeCollectionListener receives collection-level change notifications.
// Listeners registered with SubscribeViewer see dummy entries too (spec.md
// §4.5 "viewer" variant); listeners registered with Subscribe are only ever
// called with regular children.
type NodeCollectionListener func(action CollectionAction, child *Node)

// NodeCollection is the ordered container of a node's child nodes
// (components D/E of spec.md §2), regular and dummy entries interleaved
// in insertion order. Public operations act on regular entries only
// (spec.md §4.5); viewer-level listeners additionally observe dummies.
type NodeCollection struct {
	owner   *Node
	entries []*Node          // all entries (regular + dummy), insertion order
	byName  map[string]*Node // nameLower -> entry, regular or dummy

	mu              sync.Mutex
	listeners       []NodeCollectionListener
	viewerListeners []NodeCollectionListener
}

func newNodeCollection(owner *Node) *NodeCollection {
	return &NodeCollection{owner: owner, byName: make(map[string]*Node)}
}

// regularInOrder returns regular children in insertion order. Callers must
// hold Sync.
func (c *NodeCollection) regularInOrder() []*Node {
	out := make([]*Node, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.properties.IsDummy() {
			out = append(out, e)
		}
	}
	return out
}

// AllInOrder returns every entry, including dummies, for viewer-level
// callers (spec.md §1 "a separate viewer surface ... subsumed by
// invariants"). Callers must hold Sync.
func (c *NodeCollection) AllInOrder() []*Node {
	out := make([]*Node, len(c.entries))
	copy(out, c.entries)
	return out
}

// RegularInOrder returns regular children in insertion order, for callers
// outside the package (e.g. a codec's persistence walk) that must see
// only what public iteration sees (spec.md §6 "only regular, persistent
// entries are written"). Callers must hold Sync.
func (c *NodeCollection) RegularInOrder() []*Node {
	return c.regularInOrder()
}

// Len returns the number of regular children.
func (c *NodeCollection) Len() int {
	n := 0
	for _, e := range c.entries {
		if !e.properties.IsDummy() {
			n++
		}
	}
	return n
}

// Contains reports whether a regular child named name exists. Callers
// must hold Sync.
func (c *NodeCollection) Contains(name string) bool {
	e, ok := c.byName[toLower(name)]
	return ok && !e.properties.IsDummy()
}

// Get returns the regular child named name. Callers must hold Sync.
func (c *NodeCollection) Get(name string) (*Node, bool) {
	e, ok := c.byName[toLower(name)]
	if !ok || e.properties.IsDummy() {
		return nil, false
	}
	return e, true
}

// getAny returns any entry (regular or dummy) named name.
func (c *NodeCollection) getAny(name string) (*Node, bool) {
	e, ok := c.byName[toLower(name)]
	return e, ok
}

// GetAny returns any entry (regular or dummy) named name, for callers
// (e.g. treemgr's dummy-path resolution and cleanup walk) that must see
// placeholder entries NodeCollection.Get hides.
func (c *NodeCollection) GetAny(name string) (*Node, bool) {
	return c.getAny(name)
}

// Add inserts a new regular child named name, inheriting the owner's user
// properties (spec.md §4.5 add(name)). Fails with KindNodeExists if a
// regular child already has that name; promotes an existing dummy.
func (c *NodeCollection) Add(name string) (*Node, error) {
	return c.AddWithProperties(name, c.owner.properties&props.UserMask)
}

// AddWithProperties inserts a new regular child with the given user
// properties (spec.md §4.5 add(name, props)). p may not contain
// administrative flags.
func (c *NodeCollection) AddWithProperties(name string, p props.Properties) (*Node, error) {
	if !path.IsValidName(name) {
		return nil, errs.New(errs.KindArgument, "invalid node name "+name)
	}
	if !props.ValidateUser(p) {
		return nil, errs.New(errs.KindArgument, "node properties contain administrative flags")
	}

	if existing, ok := c.getAny(name); ok {
		if !existing.properties.IsDummy() {
			return nil, errs.New(errs.KindNodeExists, "node "+name+" already exists")
		}
		// Promote the dummy (spec.md §4.5: "matching an existing dummy
		// promotes that dummy with the supplied properties").
		existing.properties = (existing.properties &^ props.Dummy) | (p & props.UserMask)
		existing.RegularizeChain()
		if existing.properties.IsPersistent() {
			existing.PropagatePersistent()
		}
		existing.notify(ChangeProperties)
		c.fire(ActionAdded, existing)
		return existing, nil
	}

	child := c.newChild(name, p)
	c.insert(child)
	c.owner.RegularizeChain()
	if child.properties.IsPersistent() {
		c.owner.PropagatePersistent()
	}
	c.fire(ActionAdded, child)
	return child, nil
}

// addDummy creates (or returns the existing) dummy child named name,
// used by treemgr while resolving a reference's path. Callers must hold
// Sync.
func (c *NodeCollection) addDummy(name string) *Node {
	if existing, ok := c.getAny(name); ok {
		return existing
	}
	child := c.newChild(name, props.Dummy)
	c.insert(child)
	c.viewerFire(ActionAdded, child)
	return child
}

func (c *NodeCollection) newChild(name string, p props.Properties) *Node {
	child := NewRoot(name, p, c.owner.registry, c.owner.sync, c.owner.host, c.owner.serializer)
	child.parent = c.owner
	return child
}

func (c *NodeCollection) insert(child *Node) {
	c.entries = append(c.entries, child)
	c.byName[child.nameLower] = child
}

func (c *NodeCollection) fire(action CollectionAction, child *Node) {
	c.mu.Lock()
	ls := append([]NodeCollectionListener(nil), c.listeners...)
	c.mu.Unlock()
	c.dispatchAll(ls, action, child)
	c.viewerFire(action, child)
}

func (c *NodeCollection) viewerFire(action CollectionAction, child *Node) {
	c.mu.Lock()
	ls := append([]NodeCollectionListener(nil), c.viewerListeners...)
	c.mu.Unlock()
	c.dispatchAll(ls, action, child)
}

func (c *NodeCollection) dispatchAll(ls []NodeCollectionListener, action CollectionAction, child *Node) {
	host := c.owner.host
	for _, l := range ls {
		if l == nil {
			continue
		}
		l := l
		if host == nil {
			l(action, child)
			continue
		}
		host.EnqueueMethod(func() { l(action, child) })
	}
}

// Subscribe registers l for regular-child Added/Removed events, replaying
// current regular children as InitialUpdate first (spec.md §4.5). Callers
// must hold Sync.
func (c *NodeCollection) Subscribe(l NodeCollectionListener) (unsubscribe func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	idx := len(c.listeners) - 1
	c.mu.Unlock()
	host := c.owner.host
	for _, child := range c.regularInOrder() {
		child := child
		if host == nil {
			l(ActionInitialUpdate, child)
		} else {
			host.EnqueueMethod(func() { l(ActionInitialUpdate, child) })
		}
	}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.listeners) {
			c.listeners[idx] = nil
		}
	}
}

// SubscribeViewer registers l for Added/Removed events over ALL entries,
// including dummies (spec.md §4.5 "viewer" variant).
func (c *NodeCollection) SubscribeViewer(l NodeCollectionListener) (unsubscribe func()) {
	c.mu.Lock()
	c.viewerListeners = append(c.viewerListeners, l)
	idx := len(c.viewerListeners) - 1
	c.mu.Unlock()
	host := c.owner.host
	for _, child := range c.AllInOrder() {
		child := child
		if host == nil {
			l(ActionInitialUpdate, child)
		} else {
			host.EnqueueMethod(func() { l(ActionInitialUpdate, child) })
		}
	}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.viewerListeners) {
			c.viewerListeners[idx] = nil
		}
	}
}

// Remove removes the regular child named name: it collects and unbinds
// references below the child, rehomes it onto a fresh Registry so it becomes
// a new root of its own subtree (its values and descendants stay regular
// and live), fires Removed, and re-registers the collected references,
// which may recreate a dummy in the child's former place (spec.md §4.5
// clear, §4.4 remove).
func (c *NodeCollection) Remove(name string) (*Node, error) {
	child, ok := c.Get(name)
	if !ok {
		return nil, errs.New(errs.KindValueNotFound, "no such node "+name)
	}
	c.removeEntry(child)
	return child, nil
}

// RemoveNode removes child (by identity) if it is currently a regular
// child of c.
func (c *NodeCollection) RemoveNode(child *Node) error {
	existing, ok := c.byName[child.nameLower]
	if !ok || existing != child || child.properties.IsDummy() {
		return errs.New(errs.KindValueNotFound, "node is not a regular child of this collection")
	}
	c.removeEntry(child)
	return nil
}

// RemoveAll removes every regular child satisfying pred. Dummies are never
// observed by pred (spec.md §9 Open Question (b)).
func (c *NodeCollection) RemoveAll(pred func(*Node) bool) int {
	removed := 0
	for _, child := range c.regularInOrder() {
		if pred(child) {
			c.removeEntry(child)
			removed++
		}
	}
	return removed
}

// Clear removes every regular child (spec.md §4.5 clear): for each, it
// collects references below, unbinds them, removes the child (it becomes
// a new root of its own subtree), fires Removed, then re-registers the
// collected references against the now-empty location.
func (c *NodeCollection) Clear() {
	for _, child := range c.regularInOrder() {
		c.removeEntry(child)
	}
}

func (c *NodeCollection) removeEntry(child *Node) {
	childPath := child.Path()
	handles := c.owner.registry.UnbindBelow(childPath)

	c.unlink(child)

	newReg := c.owner.registry.Rehome(child)
	rehome(child, newReg)

	c.fire(ActionRemoved, child)
	c.owner.registry.Rebind(handles)
	c.owner.registry.ScheduleCleanup(c.owner.Path())
}

func (c *NodeCollection) unlink(child *Node) {
	delete(c.byName, child.nameLower)
	for i, e := range c.entries {
		if e == child {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}
	child.parent = nil
}

// rehome reassigns the registry across the whole subtree rooted at n
// (spec.md §3.4/§5: a detached subtree gets a fresh tree manager). The
// nodes' sync, host and serializer are left as they were, so the subtree
// keeps sharing them with its former tree.
func rehome(n *Node, reg Registry) {
	n.registry = reg
	for _, c := range n.Children.entries {
		rehome(c, reg)
	}
}

// GetNewName returns base if it is unused or a dummy; otherwise "base #k"
// for the smallest k >= 2 whose name is unused or a dummy (spec.md §4.5
// get_new_node_name).
func (c *NodeCollection) GetNewName(base string) string {
	if e, ok := c.getAny(base); !ok || e.properties.IsDummy() {
		return base
	}
	for k := 2; ; k++ {
		candidate := fmt.Sprintf("%s #%d", base, k)
		if e, ok := c.getAny(candidate); !ok || e.properties.IsDummy() {
			return candidate
		}
	}
}

// RemoveDummyEntry unlinks a dummy entry directly, without the
// unbind/rebind bookkeeping regular removal requires (spec.md §4.7 I5
// lazy/eager dummy cleanup). Only viewer listeners observe it.
func (c *NodeCollection) RemoveDummyEntry(child *Node) {
	c.unlink(child)
	c.viewerFire(ActionRemoved, child)
}

// IsEmptyDummy reports whether n is a dummy with no children and no values
// at all, regular or dummy, i.e. a candidate for I5 cleanup. A dummy child
// or value still anchors some other live reference's path, so it must
// block removal just as a regular one would (spec.md I5: "removed ... when
// it has no regular descendants/values" presumes those descendants aren't
// themselves still on a live reference's path).
func (n *Node) IsEmptyDummy() bool {
	return n.properties.IsDummy() && len(n.Children.entries) == 0 && len(n.Values.entries) == 0
}

// ResolveForReference walks path relative to n, creating dummy
// intermediate nodes as needed (never regular ones), and returns the node
// that should own the leaf plus the leaf's name (spec.md §4.7
// register_reference). Must be called with Sync held.
func (n *Node) ResolveForReference(p string) (owner *Node, leaf string, err error) {
	tokens, _, err := path.Parse(p)
	if err != nil {
		return nil, "", err
	}
	if len(tokens) == 0 {
		return nil, "", errs.New(errs.KindArgument, "path does not name a value")
	}
	leaf = tokens[len(tokens)-1].Name
	cur := n
	for _, tok := range tokens[:len(tokens)-1] {
		if child, ok := cur.Children.getAny(tok.Name); ok {
			cur = child
		} else {
			cur = cur.Children.addDummy(tok.Name)
		}
	}
	return cur, leaf, nil
}

// reindex updates child's name/path bookkeeping in this collection's index
// after the child's own name has changed. Callers must hold Sync.
func (c *NodeCollection) reindex(child *Node, oldNameLower string) {
	delete(c.byName, oldNameLower)
	c.byName[child.nameLower] = child
}
