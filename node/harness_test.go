package node

import "sync"

type fakeLocker struct{ mu sync.Mutex }

func (f *fakeLocker) Lock()   { f.mu.Lock() }
func (f *fakeLocker) Unlock() { f.mu.Unlock() }

type fakeSerializer struct{}

func (fakeSerializer) CopyPayload(v any) any { return v }

// fakeRegistry is a no-op Registry: it never tracks references, so
// UnbindBelow always returns nil and Rehome just returns a fresh instance.
// Sufficient for exercising Node/NodeCollection/ValueCollection mechanics
// in isolation from treemgr.
type fakeRegistry struct{}

func (fakeRegistry) UnbindBelow(prefix string) []any   { return nil }
func (fakeRegistry) Rebind(handles []any)              {}
func (fakeRegistry) InvalidateAt(path string)          {}
func (fakeRegistry) ScheduleCleanup(path string)        {}
func (fakeRegistry) Rehome(n *Node) Registry            { return fakeRegistry{} }

func newTestRoot(name string) *Node {
	return NewRoot(name, 0, fakeRegistry{}, &fakeLocker{}, nil, fakeSerializer{})
}
