package value_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/datatree/props"
	"github.com/joshuapare/datatree/snapshot"
	"github.com/joshuapare/datatree/value"
)

type fakeAncestry struct {
	regularized int
	propagated  int
}

func (f *fakeAncestry) RegularizeChain()     { f.regularized++ }
func (f *fakeAncestry) PropagatePersistent() { f.propagated++ }

func copyAny(v any) any { return v }

func TestWriteRegularizesDummyAndPropagatesPersistence(t *testing.T) {
	anc := &fakeAncestry{}
	v := value.New("c", "/a/b/c", reflect.TypeOf(0), 0, props.Dummy, anc, copyAny)
	require.True(t, v.IsDummy())

	flags := v.Write(nil, 42, false)
	require.False(t, v.IsDummy())
	require.Equal(t, 1, anc.regularized)
	require.Equal(t, 0, anc.propagated)
	require.NotZero(t, flags&value.ChangeValue)
	require.NotZero(t, flags&value.ChangeTimestamp)

	got, err := value.ReadTyped[int](v)
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestWritePropagatesPersistenceWhenRegularizingPersistentDummy(t *testing.T) {
	anc := &fakeAncestry{}
	v := value.New("c", "/a/b/c", reflect.TypeOf(0), 0, props.Dummy|props.Persistent, anc, copyAny)
	v.Write(nil, 1, false)
	require.Equal(t, 1, anc.regularized)
	require.Equal(t, 1, anc.propagated)
}

func TestReadFailsOnDummy(t *testing.T) {
	anc := &fakeAncestry{}
	v := value.New("c", "/a/b/c", reflect.TypeOf(0), 0, props.Dummy, anc, copyAny)
	_, err := v.Read()
	require.Error(t, err)
}

func TestReadTypedMismatch(t *testing.T) {
	anc := &fakeAncestry{}
	v := value.New("c", "/a/b/c", reflect.TypeOf(0), 0, 0, anc, copyAny)
	_, err := value.ReadTyped[string](v)
	require.Error(t, err)
}

func TestWritePropertiesRejectsAdminFlags(t *testing.T) {
	anc := &fakeAncestry{}
	v := value.New("c", "/a/b/c", reflect.TypeOf(0), 0, 0, anc, copyAny)
	err := v.WriteProperties(nil, props.Dummy)
	require.Error(t, err)
}

func TestSetPersistentTogglesAndPropagates(t *testing.T) {
	anc := &fakeAncestry{}
	v := value.New("c", "/a/b/c", reflect.TypeOf(0), 0, 0, anc, copyAny)
	require.NoError(t, v.SetPersistent(nil, true))
	require.True(t, v.IsPersistent())
	require.Equal(t, 1, anc.propagated)

	require.NoError(t, v.SetPersistent(nil, false))
	require.False(t, v.IsPersistent())
}

func TestSetAtomicValueAndProperties(t *testing.T) {
	anc := &fakeAncestry{}
	v := value.New("c", "/a/b/c", reflect.TypeOf(0), 0, props.Dummy, anc, copyAny)
	err := v.Set(nil, 7, props.Persistent, 0)
	require.NoError(t, err)
	require.False(t, v.IsDummy())
	require.True(t, v.IsPersistent())
	got, _ := value.ReadTyped[int](v)
	require.Equal(t, 7, got)
}

func TestSetKeepsDummyWhenReasserted(t *testing.T) {
	anc := &fakeAncestry{}
	v := value.New("c", "/a/b/c", reflect.TypeOf(0), 0, props.Dummy, anc, copyAny)
	err := v.Set(nil, 7, props.Dummy, 0)
	require.NoError(t, err)
	require.True(t, v.IsDummy())
}

func TestNotifyInitialDeliversSynchronouslyWithoutHost(t *testing.T) {
	anc := &fakeAncestry{}
	v := value.New("c", "/a/b/c", reflect.TypeOf(0), 5, 0, anc, copyAny)

	var gotFlags value.ChangeFlags
	var gotPayload any
	v.NotifyInitial(nil, func(snap snapshot.ValueSnapshot, flags value.ChangeFlags) {
		gotFlags = flags
		gotPayload = snap.Payload()
	})
	require.NotZero(t, gotFlags&value.ChangeInitialUpdate)
	require.Equal(t, 5, gotPayload)
}

func TestMarkDetachedSetsFlag(t *testing.T) {
	anc := &fakeAncestry{}
	v := value.New("c", "/a/b/c", reflect.TypeOf(0), 0, 0, anc, copyAny)
	v.MarkDetached(nil)
	require.True(t, v.IsDetached())
}
