package node

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/datatree/props"
)

func TestNewRootIsRootWithSlashPath(t *testing.T) {
	root := newTestRoot("Data Manager")
	require.True(t, root.IsRoot())
	require.Equal(t, "/", root.Path())
}

func TestChildPathJoinsAncestorNames(t *testing.T) {
	root := newTestRoot("root")
	child, err := root.Children.Add("widgets")
	require.NoError(t, err)
	require.Equal(t, "/widgets", child.Path())

	grandchild, err := child.Children.Add("a/b")
	require.NoError(t, err)
	require.Equal(t, `/widgets/a\/b`, grandchild.Path())
}

func TestWriteValuePromotesDummyAncestorsAndPropagatesPersistence(t *testing.T) {
	root := newTestRoot("root")
	child, err := root.Children.Add("widgets")
	require.NoError(t, err)

	gc := child.Children.addDummy("gizmo")
	require.True(t, gc.IsDummy())

	require.NoError(t, SetValue[int](gc, "count", 1, props.Persistent))

	require.False(t, gc.IsDummy())
	require.True(t, gc.IsPersistent())
	require.True(t, child.IsPersistent())
	require.True(t, root.IsPersistent())
}

func TestSetValueCreatesIntermediateNodes(t *testing.T) {
	root := newTestRoot("root")
	require.NoError(t, SetValue[string](root, "a/b/c", "hello", 0))

	v, err := root.GetDataValue("a/b/c")
	require.NoError(t, err)
	got, err := GetDataValueTyped[string](root, "a/b/c", 0, "unused")
	require.NoError(t, err)
	require.Equal(t, "hello", got)
	require.Equal(t, "/a/b/c", v.Path())
}

func TestSetValueTypeMismatchFails(t *testing.T) {
	root := newTestRoot("root")
	require.NoError(t, SetValue[int](root, "x", 1, 0))
	err := SetValue[string](root, "x", "oops", 0)
	require.Error(t, err)
}

// Clearing Persistent on a deep value must not un-persist its ancestors:
// propagation only ever sets the bit up the chain, it never revokes it
// (spec.md §8 boundary behavior, I3).
func TestClearingValuePersistentLeavesAncestorsPersistent(t *testing.T) {
	root := newTestRoot("root")
	require.NoError(t, SetValue[int](root, "a/b/c", 1, props.Persistent))

	a, ok := root.Children.Get("a")
	require.True(t, ok)
	b, ok := a.Children.Get("b")
	require.True(t, ok)
	require.True(t, a.IsPersistent())
	require.True(t, b.IsPersistent())

	v, err := root.GetDataValue("a/b/c")
	require.NoError(t, err)
	require.NoError(t, v.WriteProperties(nil, 0))

	require.False(t, v.IsPersistent())
	require.True(t, a.IsPersistent())
	require.True(t, b.IsPersistent())
}

// A dummy of one type replaced by set_value with an incompatible type is
// destroyed and recreated, not reinterpreted (I6, spec.md §4.4 set_value).
func TestSetValueReplacesIncompatibleDummy(t *testing.T) {
	root := newTestRoot("root")
	dummy := root.Values.addDummy("x", reflect.TypeOf(0))
	require.True(t, dummy.IsDummy())

	require.NoError(t, SetValue[string](root, "x", "hello", 0))

	got, err := GetDataValueTyped[string](root, "x", 0, "unused")
	require.NoError(t, err)
	require.Equal(t, "hello", got)
}

func TestRenameUpdatesDescendantPaths(t *testing.T) {
	root := newTestRoot("root")
	a, err := root.Children.Add("a")
	require.NoError(t, err)
	b, err := a.Children.Add("b")
	require.NoError(t, err)
	require.NoError(t, SetValue[int](b, "v", 1, 0))

	require.NoError(t, a.Rename("renamed"))
	require.Equal(t, "/renamed", a.Path())
	require.Equal(t, "/renamed/b", b.Path())

	val, err := root.GetDataValue("renamed/b/v")
	require.NoError(t, err)
	require.Equal(t, "/renamed/b/v", val.Path())
}

func TestRenameFailsOnCollisionWithRegularSibling(t *testing.T) {
	root := newTestRoot("root")
	_, err := root.Children.Add("a")
	require.NoError(t, err)
	b, err := root.Children.Add("b")
	require.NoError(t, err)

	require.Error(t, b.Rename("a"))
}

func TestRenameFailsOnCollisionWithDummy(t *testing.T) {
	root := newTestRoot("root")
	b, err := root.Children.Add("b")
	require.NoError(t, err)
	root.Children.addDummy("a")

	require.Error(t, b.Rename("a"))
}

func TestRemoveDetachesNodeFromParent(t *testing.T) {
	root := newTestRoot("root")
	child, err := root.Children.Add("child")
	require.NoError(t, err)

	require.NoError(t, child.Remove())
	require.False(t, root.Children.Contains("child"))
	require.True(t, child.IsRoot())
}

func TestCopyDuplicatesSubtreeValues(t *testing.T) {
	root := newTestRoot("root")
	src, err := root.Children.Add("src")
	require.NoError(t, err)
	require.NoError(t, SetValue[int](src, "n", 42, props.Persistent))

	dest, err := root.Children.Add("dest")
	require.NoError(t, err)

	copied, err := src.Copy(dest, "src-copy", false)
	require.NoError(t, err)
	got, err := GetDataValueTyped[int](copied, "n", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestSetPropertiesRecursivelyAppliesToChildrenAndValues(t *testing.T) {
	root := newTestRoot("root")
	child, err := root.Children.Add("child")
	require.NoError(t, err)
	require.NoError(t, SetValue[int](child, "v", 1, 0))

	root.SetPropertiesRecursively(props.Persistent, 0, true)

	require.True(t, child.IsPersistent())
	v, err := root.GetDataValue("child/v")
	require.NoError(t, err)
	require.True(t, v.IsPersistent())
}
