package snapshot_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/datatree/props"
	"github.com/joshuapare/datatree/snapshot"
)

func copyInts(v any) any {
	n := v.(int)
	return n // ints are values; copy is identity, but exercises the path
}

func TestPayloadCopiesOnceUnderRace(t *testing.T) {
	calls := 0
	cp := func(v any) any {
		calls++
		return v
	}
	p := snapshot.NewPayload(42, cp)

	const n = 50
	done := make(chan any, n)
	for i := 0; i < n; i++ {
		go func() { done <- p.Get() }()
	}
	for i := 0; i < n; i++ {
		require.Equal(t, 42, <-done)
	}
	require.Equal(t, 1, calls)
}

func TestPayloadNoCopyFuncReturnsValueDirectly(t *testing.T) {
	p := snapshot.NewPayload("hi", nil)
	require.Equal(t, "hi", p.Get())
}

func TestValueSnapshotEquality(t *testing.T) {
	ts := time.Now().UTC()
	a := snapshot.NewValueSnapshot("c", "/a/b/c", ts, props.Persistent, 42, copyInts)
	b := snapshot.NewValueSnapshot("c", "/a/b/c", ts, props.Persistent, 42, copyInts)

	require.Equal(t, a.Name, b.Name)
	require.Equal(t, a.Path, b.Path)
	require.True(t, cmp.Equal(a.Payload(), b.Payload()))
	require.True(t, a.IsPersistent())
	require.False(t, a.IsDummy())
}

func TestReferenceSnapshotUnhealthyHasNilPayload(t *testing.T) {
	s := snapshot.NewReferenceSnapshot("y", "/x/y", time.Time{}, 0, false, nil, nil)
	require.False(t, s.IsHealthy)
	require.Nil(t, s.Payload())
}
