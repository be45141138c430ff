package node

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddRejectsDuplicateRegularName(t *testing.T) {
	root := newTestRoot("root")
	_, err := root.Children.Add("a")
	require.NoError(t, err)
	_, err = root.Children.Add("a")
	require.Error(t, err)
}

func TestAddPromotesExistingDummy(t *testing.T) {
	root := newTestRoot("root")
	dummy := root.Children.addDummy("a")
	require.True(t, dummy.IsDummy())

	child, err := root.Children.Add("a")
	require.NoError(t, err)
	require.Same(t, dummy, child)
	require.False(t, child.IsDummy())
}

func TestGetNewNameSkipsOccupiedRegularNames(t *testing.T) {
	root := newTestRoot("root")
	_, err := root.Children.Add("widget")
	require.NoError(t, err)
	_, err = root.Children.Add("widget #2")
	require.NoError(t, err)

	require.Equal(t, "widget #3", root.Children.GetNewName("widget"))
}

func TestGetNewNameReusesDummySlot(t *testing.T) {
	root := newTestRoot("root")
	root.Children.addDummy("widget")

	require.Equal(t, "widget", root.Children.GetNewName("widget"))
}

func TestSubscribeReplaysCurrentChildrenAsInitialUpdate(t *testing.T) {
	root := newTestRoot("root")
	_, err := root.Children.Add("a")
	require.NoError(t, err)

	var seen []string
	root.Children.Subscribe(func(action CollectionAction, child *Node) {
		seen = append(seen, child.Name())
	})
	require.Equal(t, []string{"a"}, seen)
}

func TestSubscribeViewerSeesDummies(t *testing.T) {
	root := newTestRoot("root")
	root.Children.addDummy("placeholder")

	var seen []string
	root.Children.SubscribeViewer(func(action CollectionAction, child *Node) {
		seen = append(seen, child.Name())
	})
	require.Equal(t, []string{"placeholder"}, seen)
}

func TestClearRemovesAllRegularChildren(t *testing.T) {
	root := newTestRoot("root")
	_, _ = root.Children.Add("a")
	_, _ = root.Children.Add("b")

	root.Children.Clear()
	require.Equal(t, 0, root.Children.Len())
}

func TestRemoveFiresRemovedAndRerootsSubtreeValuesLive(t *testing.T) {
	root := newTestRoot("root")
	child, err := root.Children.Add("child")
	require.NoError(t, err)
	require.NoError(t, SetValue[int](child, "v", 1, 0))
	v, err := child.GetDataValue("v")
	require.NoError(t, err)

	var removed []string
	root.Children.Subscribe(func(action CollectionAction, c *Node) {
		if action == ActionRemoved {
			removed = append(removed, c.Name())
		}
	})

	_, err = root.Children.Remove("child")
	require.NoError(t, err)
	require.Equal(t, []string{"child"}, removed)
	require.True(t, child.IsRoot())
	require.False(t, v.IsDetached())
	got, err := v.Read()
	require.NoError(t, err)
	require.Equal(t, 1, got)
}
