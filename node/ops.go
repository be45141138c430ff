package node

import (
	"reflect"

	"github.com/joshuapare/datatree/errs"
	"github.com/joshuapare/datatree/path"
	"github.com/joshuapare/datatree/props"
	"github.com/joshuapare/datatree/value"
)

// resolveNode walks tokens from n, creating regular intermediate nodes when
// create is true and the next segment is missing or a dummy standing in for
// a future node. Must be called with Sync held.
func resolveNode(n *Node, tokens []path.Token, create bool, leafProps props.Properties) (*Node, error) {
	cur := n
	for i, tok := range tokens {
		isLeaf := i == len(tokens)-1
		p := props.Properties(0)
		if isLeaf {
			p = leafProps
		}
		if child, ok := cur.Children.Get(tok.Name); ok {
			cur = child
			continue
		}
		if !create {
			return nil, errs.New(errs.KindValueNotFound, "no such node at "+tok.Name)
		}
		child, err := cur.Children.AddWithProperties(tok.Name, p)
		if err != nil {
			return nil, err
		}
		cur = child
	}
	return cur, nil
}

// GetDataNode resolves path relative to n, returning the existing node
// without creating anything (spec.md §4.4 get_data_node).
func (n *Node) GetDataNode(p string) (*Node, error) {
	tokens, _, err := path.Parse(p)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return n, nil
	}
	return resolveNode(n, tokens, false, 0)
}

// GetOrCreateDataNode resolves path relative to n, creating regular
// intermediate and leaf nodes as needed with the given leaf properties
// (spec.md §4.4 get_data_node(path, props)).
func (n *Node) GetOrCreateDataNode(p string, leafProps props.Properties) (*Node, error) {
	tokens, _, err := path.Parse(p)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return n, nil
	}
	if !props.ValidateUser(leafProps) {
		return nil, errs.New(errs.KindArgument, "node properties contain administrative flags")
	}
	return resolveNode(n, tokens, true, leafProps)
}

// GetDataValue resolves the value at path relative to n without creating it
// (spec.md §4.4 get_data_value).
func (n *Node) GetDataValue(p string) (*value.Value, error) {
	parent, leaf, err := splitParentLeaf(p)
	if err != nil {
		return nil, err
	}
	owner, err := n.GetDataNode(parent)
	if err != nil {
		return nil, err
	}
	v, ok := owner.Values.Get(leaf)
	if !ok {
		return nil, errs.New(errs.KindValueNotFound, "no such value at "+p)
	}
	return v, nil
}

// SetValue writes in at path relative to n, creating the value (and any
// intermediate nodes) as a regular value of type T if it does not already
// exist, or writing through to the existing value (spec.md §4.4 set_value,
// §4.6, I6). An existing regular value of a different type is an error; an
// existing dummy of a different type is destroyed and recreated (I6),
// delegated to ValueCollection.Add.
func SetValue[T any](n *Node, p string, in T, leafProps props.Properties) error {
	parent, leaf, err := splitParentLeaf(p)
	if err != nil {
		return err
	}
	owner, err := n.GetOrCreateDataNode(parent, 0)
	if err != nil {
		return err
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if existing, ok := owner.Values.getAny(leaf); ok && existing.Type() == typ {
		value.WriteTyped(existing, owner.host, in)
		return nil
	} else if ok && !existing.IsDummy() {
		return errs.New(errs.KindTypeMismatch, "value at "+p+" does not hold the requested type")
	}
	_, err = owner.Values.Add(leaf, typ, leafProps, in)
	return err
}

// GetDataValueTyped reads the value at path relative to n, creating it with
// init if absent (spec.md §4.4 get_data_value(path, props, init)).
func GetDataValueTyped[T any](n *Node, p string, leafProps props.Properties, init T) (T, error) {
	var zero T
	parent, leaf, err := splitParentLeaf(p)
	if err != nil {
		return zero, err
	}
	owner, err := n.GetOrCreateDataNode(parent, 0)
	if err != nil {
		return zero, err
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()
	v, ok := owner.Values.getAny(leaf)
	if !ok {
		v, err = owner.Values.Add(leaf, typ, leafProps, init)
		if err != nil {
			return zero, err
		}
	}
	return value.ReadTyped[T](v)
}

func splitParentLeaf(p string) (parent, leaf string, err error) {
	tokens, _, err := path.Parse(p)
	if err != nil {
		return "", "", err
	}
	if len(tokens) == 0 {
		return "", "", errs.New(errs.KindArgument, "path does not name a value")
	}
	leaf = tokens[len(tokens)-1].Name
	parent = path.Root
	for _, tok := range tokens[:len(tokens)-1] {
		parent = path.Join(parent, tok.Name)
	}
	return parent, leaf, nil
}

// Rename changes n's name in place, updating the cached path of every value
// in n's subtree (node paths are computed on demand), and firing Name/Path
// events (spec.md §4.4 rename). It fails
// if n is the root, or if the parent already has a distinct regular OR
// dummy child named newName (Open Question (a): renaming into an occupied
// dummy slot is rejected rather than silently absorbing it, since the
// dummy may be standing in for a different reference's expectations).
// Must be called with Sync held.
func (n *Node) Rename(newName string) error {
	if n.parent == nil {
		return errs.New(errs.KindArgument, "cannot rename the root node")
	}
	if !path.IsValidName(newName) {
		return errs.New(errs.KindArgument, "invalid node name "+newName)
	}
	if toLower(newName) == n.nameLower {
		return nil
	}
	parent := n.parent
	if existing, ok := parent.Children.getAny(newName); ok && existing != n {
		return errs.New(errs.KindNodeExists, "node "+newName+" already exists")
	}

	oldPath := n.Path()
	handles := n.registry.UnbindBelow(oldPath)

	oldNameLower := n.nameLower
	n.name = newName
	n.nameLower = toLower(newName)
	parent.Children.reindex(n, oldNameLower)

	renamePaths(n)

	n.registry.Rebind(handles)
	return nil
}

// renamePaths refreshes the cached path/name bookkeeping on n's values and
// fires Name/Path change events down the subtree after a rename.
func renamePaths(n *Node) {
	n.notify(ChangeName | ChangePath)
	for _, v := range n.Values.entries {
		v.SetPathAndName(v.Name(), path.Join(n.Path(), v.Name()))
	}
	for _, c := range n.Children.entries {
		renamePaths(c)
	}
}

// Remove detaches n from its parent, giving it a fresh Registry (spec.md
// §3.4, §4.4 remove): n becomes the root of its own standalone tree,
// reusing the shared Locker/Serializer/Host. References below n are
// collected, unbound, and re-registered against the parent's (now
// presumably dummy) slot. Must be called with Sync held.
func (n *Node) Remove() error {
	if n.parent == nil {
		return errs.New(errs.KindArgument, "cannot remove the root node")
	}
	return n.parent.Children.RemoveNode(n)
}

// Copy deep-copies n as a new child of dest, named base (or "base #k" if
// renameOnCollision is true and base is occupied by a regular entry;
// collision with a dummy of the same name regularizes and overwrites it,
// per spec.md §4.4 copy). Values are copied via the destination tree's
// serializer. Must be called with Sync held over both n and dest's trees.
func (n *Node) Copy(dest *Node, base string, renameOnCollision bool) (*Node, error) {
	name := base
	if renameOnCollision {
		name = dest.Children.GetNewName(base)
	}

	var target *Node
	if existing, ok := dest.Children.getAny(name); ok {
		if !existing.properties.IsDummy() && !renameOnCollision {
			return nil, errs.New(errs.KindNodeExists, "node "+name+" already exists")
		}
		target = existing
		target.properties = (target.properties &^ props.Dummy) | (n.properties & props.UserMask)
		target.RegularizeChain()
	} else {
		child, err := dest.Children.AddWithProperties(name, n.properties&props.UserMask)
		if err != nil {
			return nil, err
		}
		target = child
	}

	for _, v := range n.Values.regularInOrder() {
		copied := target.serializer.CopyPayload(v.Snapshot().Payload())
		if _, err := target.Values.Add(v.Name(), v.Type(), v.Properties()&props.UserMask, copied); err != nil {
			return nil, err
		}
	}
	for _, c := range n.Children.regularInOrder() {
		if _, err := c.Copy(target, c.Name(), false); err != nil {
			return nil, err
		}
	}
	return target, nil
}
