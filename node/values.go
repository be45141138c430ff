package node

import (
	"reflect"
	"sync"

	"github.com/joshuapare/datatree/errs"
	"github.com/joshuapare/datatree/path"
	"github.com/joshuapare/datatree/props"
	"github.com/joshuapare/datatree/value"
)

// ValueCollectionListener receives collection-level value change
// notifications (spec.md §4.6).
type ValueCollectionListener func(action CollectionAction, v *value.Value)

// ValueCollection is the ordered container of a node's values (components
// C/F of spec.md §2): same contract shape as NodeCollection, parameterized
// over *value.Value.
type ValueCollection struct {
	owner   *Node
	entries []*value.Value
	byName  map[string]*value.Value

	mu        sync.Mutex
	listeners []ValueCollectionListener
}

func newValueCollection(owner *Node) *ValueCollection {
	return &ValueCollection{owner: owner, byName: make(map[string]*value.Value)}
}

func (c *ValueCollection) regularInOrder() []*value.Value {
	out := make([]*value.Value, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.IsDummy() {
			out = append(out, e)
		}
	}
	return out
}

// RegularInOrder returns regular values in insertion order, for callers
// outside the package (e.g. a codec's persistence walk) that must see
// only what public iteration sees (spec.md §6). Callers must hold Sync.
func (c *ValueCollection) RegularInOrder() []*value.Value {
	return c.regularInOrder()
}

// Len returns the number of regular values.
func (c *ValueCollection) Len() int {
	n := 0
	for _, e := range c.entries {
		if !e.IsDummy() {
			n++
		}
	}
	return n
}

// Contains reports whether a regular value named name exists.
func (c *ValueCollection) Contains(name string) bool {
	v, ok := c.byName[toLower(name)]
	return ok && !v.IsDummy()
}

// Get returns the regular value named name.
func (c *ValueCollection) Get(name string) (*value.Value, bool) {
	v, ok := c.byName[toLower(name)]
	if !ok || v.IsDummy() {
		return nil, false
	}
	return v, true
}

func (c *ValueCollection) getAny(name string) (*value.Value, bool) {
	v, ok := c.byName[toLower(name)]
	return v, ok
}

// GetAny returns any entry (regular or dummy) named name, for callers
// (e.g. treemgr's cleanup walk) that must see placeholder entries
// ValueCollection.Get hides.
func (c *ValueCollection) GetAny(name string) (*value.Value, bool) {
	return c.getAny(name)
}

func (c *ValueCollection) fire(action CollectionAction, v *value.Value) {
	c.mu.Lock()
	ls := append([]ValueCollectionListener(nil), c.listeners...)
	c.mu.Unlock()
	host := c.owner.host
	for _, l := range ls {
		if l == nil {
			continue
		}
		l := l
		if host == nil {
			l(action, v)
			continue
		}
		host.EnqueueMethod(func() { l(action, v) })
	}
}

// Subscribe registers l, replaying current regular values as
// InitialUpdate first.
func (c *ValueCollection) Subscribe(l ValueCollectionListener) (unsubscribe func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	idx := len(c.listeners) - 1
	c.mu.Unlock()
	host := c.owner.host
	for _, v := range c.regularInOrder() {
		v := v
		if host == nil {
			l(ActionInitialUpdate, v)
		} else {
			host.EnqueueMethod(func() { l(ActionInitialUpdate, v) })
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

// Add copies initial (via the tree serializer) and inserts a new regular
// value of type typ (spec.md §4.6 add<T>). Collision with a regular value
// fails; collision with a dummy of the same type promotes it; collision
// with a dummy of a different type invalidates references to it (they
// rebind lazily once the new value appears), removes the dummy, and
// inserts.
func (c *ValueCollection) Add(name string, typ reflect.Type, p props.Properties, initial any) (*value.Value, error) {
	if !path.IsValidName(name) {
		return nil, errs.New(errs.KindArgument, "invalid value name "+name)
	}
	if !props.ValidateUser(p) {
		return nil, errs.New(errs.KindArgument, "value properties contain administrative flags")
	}

	copied := c.owner.serializer.CopyPayload(initial)

	if existing, ok := c.getAny(name); ok {
		if !existing.IsDummy() {
			return nil, errs.New(errs.KindValueExists, "value "+name+" already exists")
		}
		if existing.Type() == typ {
			existing.Set(c.owner.host, copied, p&props.UserMask, 0)
			c.fire(ActionAdded, existing)
			return existing, nil
		}
		// Incompatible type: destroy and recreate (I6, §9 "never a
		// reinterpretation").
		vpath := path.Join(c.owner.Path(), name)
		c.owner.registry.InvalidateAt(vpath)
		c.removeEntryNoEvents(existing)
	}

	vpath := path.Join(c.owner.Path(), name)
	v := value.New(name, vpath, typ, copied, p&props.UserMask, c.owner, c.owner.serializer.CopyPayload)
	c.insert(v)
	c.owner.RegularizeChain()
	if v.IsPersistent() {
		c.owner.PropagatePersistent()
	}
	c.fire(ActionAdded, v)
	return v, nil
}

// addDummy creates (or returns the existing) dummy value of type typ,
// used by treemgr while resolving a reference. If an existing dummy has
// an incompatible type, it is replaced (I6).
func (c *ValueCollection) addDummy(name string, typ reflect.Type) *value.Value {
	if existing, ok := c.getAny(name); ok {
		if existing.Type() == typ {
			return existing
		}
		c.removeEntryNoEvents(existing)
	}
	vpath := path.Join(c.owner.Path(), name)
	v := value.New(name, vpath, typ, reflect.Zero(typ).Interface(), props.Dummy, c.owner, c.owner.serializer.CopyPayload)
	c.insert(v)
	return v
}

func (c *ValueCollection) insert(v *value.Value) {
	c.entries = append(c.entries, v)
	c.byName[v.NameLower()] = v
}

func (c *ValueCollection) removeEntryNoEvents(v *value.Value) {
	delete(c.byName, v.NameLower())
	for i, e := range c.entries {
		if e == v {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}
}

// Remove removes the regular value named name, setting Detached on it
// (spec.md §4.3 remove, §4.6). Acceptable for dummy values too (internal
// paths only).
func (c *ValueCollection) Remove(name string) (*value.Value, error) {
	v, ok := c.getAny(name)
	if !ok {
		return nil, errs.New(errs.KindValueNotFound, "no such value "+name)
	}
	return v, c.removeValue(v)
}

func (c *ValueCollection) removeValue(v *value.Value) error {
	vpath := v.Path()
	handles := c.owner.registry.UnbindBelow(vpath)
	c.removeEntryNoEvents(v)
	v.MarkDetached(c.owner.host)
	c.fire(ActionRemoved, v)
	c.owner.registry.Rebind(handles)
	c.owner.registry.ScheduleCleanup(c.owner.Path())
	return nil
}

// RemoveAll removes every regular value satisfying pred. Dummies are
// never observed by pred.
func (c *ValueCollection) RemoveAll(pred func(*value.Value) bool) int {
	removed := 0
	for _, v := range c.regularInOrder() {
		if pred(v) {
			_ = c.removeValue(v)
			removed++
		}
	}
	return removed
}

// RemoveDummyEntry unlinks a dummy value directly, without the
// unbind/rebind bookkeeping regular removal requires (spec.md §4.7 I5).
func (c *ValueCollection) RemoveDummyEntry(v *value.Value) {
	c.removeEntryNoEvents(v)
}

// BindForReference returns the value named leaf (regular or dummy),
// creating a dummy of type typ if none exists. It reports ok=false
// without creating anything if an existing entry has an incompatible
// type: the reference stays unhealthy rather than displacing another
// reference's binding (spec.md §4.8 "new target exists but has an
// incompatible T").
func (c *ValueCollection) BindForReference(leaf string, typ reflect.Type) (v *value.Value, ok bool) {
	if existing, found := c.getAny(leaf); found {
		if existing.Type() != typ {
			return nil, false
		}
		return existing, true
	}
	return c.addDummy(leaf, typ), true
}

// Clear removes every regular value.
func (c *ValueCollection) Clear() {
	for _, v := range c.regularInOrder() {
		_ = c.removeValue(v)
	}
}
