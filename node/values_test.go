package node

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/datatree/props"
	"github.com/joshuapare/datatree/value"
)

func TestValueAddRejectsDuplicateRegularName(t *testing.T) {
	root := newTestRoot("root")
	_, err := root.Values.Add("n", reflect.TypeOf(0), 0, 0)
	require.NoError(t, err)
	_, err = root.Values.Add("n", reflect.TypeOf(0), 0, 1)
	require.Error(t, err)
}

func TestValueAddPromotesMatchingDummy(t *testing.T) {
	root := newTestRoot("root")
	dummy := root.Values.addDummy("n", reflect.TypeOf(0))
	require.True(t, dummy.IsDummy())

	v, err := root.Values.Add("n", reflect.TypeOf(0), 0, 7)
	require.NoError(t, err)
	require.Same(t, dummy, v)
	require.False(t, v.IsDummy())
	got, err := v.Read()
	require.NoError(t, err)
	require.Equal(t, 7, got)
}

func TestValueAddReplacesIncompatibleDummy(t *testing.T) {
	root := newTestRoot("root")
	dummy := root.Values.addDummy("n", reflect.TypeOf(0))

	v, err := root.Values.Add("n", reflect.TypeOf(""), 0, "s")
	require.NoError(t, err)
	require.NotSame(t, dummy, v)
	require.Equal(t, reflect.TypeOf(""), v.Type())
}

func TestValueRemoveMarksDetached(t *testing.T) {
	root := newTestRoot("root")
	v, err := root.Values.Add("n", reflect.TypeOf(0), 0, 1)
	require.NoError(t, err)

	_, err = root.Values.Remove("n")
	require.NoError(t, err)
	require.True(t, v.IsDetached())
	require.False(t, root.Values.Contains("n"))
}

func TestValueClearRemovesAllRegularValues(t *testing.T) {
	root := newTestRoot("root")
	_, _ = root.Values.Add("a", reflect.TypeOf(0), 0, 1)
	_, _ = root.Values.Add("b", reflect.TypeOf(0), 0, 2)

	root.Values.Clear()
	require.Equal(t, 0, root.Values.Len())
}

func TestValueCollectionSubscribeReplaysInitialUpdate(t *testing.T) {
	root := newTestRoot("root")
	_, err := root.Values.Add("a", reflect.TypeOf(0), props.Persistent, 1)
	require.NoError(t, err)

	var seen []string
	root.Values.Subscribe(func(action CollectionAction, v *value.Value) {
		seen = append(seen, v.Name())
	})
	require.Equal(t, []string{"a"}, seen)
}
