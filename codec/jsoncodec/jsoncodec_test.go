package jsoncodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/datatree/node"
	"github.com/joshuapare/datatree/props"
	"github.com/joshuapare/datatree/treemgr"
)

func buildTestTree(t *testing.T) (*treemgr.Manager, *node.Node) {
	t.Helper()
	c := New(nil)
	mgr, root := treemgr.NewTree("Data Manager", props.Persistent, c, nil)

	require.NoError(t, node.SetValue(root, "/a/b/c", 42, props.Persistent))
	require.NoError(t, node.SetValue(root, "/a/name", "hello", props.Persistent))
	require.NoError(t, node.SetValue(root, "/transient", 1, 0)) // not persistent, excluded
	return mgr, root
}

func TestWriteTreeOmitsNonPersistentEntries(t *testing.T) {
	_, root := buildTestTree(t)
	c := New(nil)

	var buf bytes.Buffer
	root.Lock()
	err := c.WriteTree(&buf, root)
	root.Unlock()
	require.NoError(t, err)

	require.Contains(t, buf.String(), `"c"`)
	require.NotContains(t, buf.String(), "transient")
}

func TestRoundTripPreservesRegularPersistentSubtree(t *testing.T) {
	_, root := buildTestTree(t)
	c := New(nil)

	var buf bytes.Buffer
	root.Lock()
	err := c.WriteTree(&buf, root)
	root.Unlock()
	require.NoError(t, err)

	_, newRoot, err := c.ReadTree(&buf, nil)
	require.NoError(t, err)

	got, err := newRoot.GetDataValue("/a/b/c")
	require.NoError(t, err)
	v, err := got.Read()
	require.NoError(t, err)
	require.Equal(t, 42, v)

	name, err := newRoot.GetDataValue("/a/name")
	require.NoError(t, err)
	nv, err := name.Read()
	require.NoError(t, err)
	require.Equal(t, "hello", nv)

	_, err = newRoot.GetDataValue("/transient")
	require.Error(t, err, "non-persistent values must not survive a round trip")
}

func TestReadTreeRejectsUnsupportedVersion(t *testing.T) {
	c := New(nil)
	var buf bytes.Buffer
	buf.WriteString(`{"version":99,"root":{"name":"x"}}`)

	_, _, err := c.ReadTree(&buf, nil)
	require.Error(t, err)
}
