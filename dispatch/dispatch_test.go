package dispatch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/datatree/dispatch"
)

type fakeCheckable struct {
	alive int32 // 1 while the "weak root" is alive
	calls int32
}

func (f *fakeCheckable) CheckPeriodically(ctx context.Context) bool {
	atomic.AddInt32(&f.calls, 1)
	return atomic.LoadInt32(&f.alive) == 1
}

func TestScheduleRunsFIFO(t *testing.T) {
	h := dispatch.NewHost(dispatch.Options{CheckInterval: time.Hour})
	defer h.Shutdown(context.Background())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		h.Schedule(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestScheduleAndWaitBlocksUntilDone(t *testing.T) {
	h := dispatch.NewHost(dispatch.Options{CheckInterval: time.Hour})
	defer h.Shutdown(context.Background())

	ran := false
	h.ScheduleAndWait(func() { ran = true })
	require.True(t, ran)
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	h := dispatch.NewHost(dispatch.Options{CheckInterval: time.Hour})
	defer h.Shutdown(context.Background())

	var second int32
	h.Schedule(func() { panic("boom") })
	h.ScheduleAndWait(func() { atomic.StoreInt32(&second, 1) })
	require.Equal(t, int32(1), second)
}

func TestPeriodicCheckDropsDeadRegistrations(t *testing.T) {
	h := dispatch.NewHost(dispatch.Options{CheckInterval: 20 * time.Millisecond})
	defer h.Shutdown(context.Background())

	c := &fakeCheckable{alive: 1}
	h.Register(func() (dispatch.Checkable, bool) { return c, true })

	time.Sleep(60 * time.Millisecond)
	require.True(t, atomic.LoadInt32(&c.calls) > 0)

	atomic.StoreInt32(&c.alive, 0)
	time.Sleep(60 * time.Millisecond)
	callsAfterDeath := atomic.LoadInt32(&c.calls)
	time.Sleep(60 * time.Millisecond)
	// Once CheckPeriodically returns false, the registration is dropped:
	// the call count should stop advancing.
	require.Equal(t, callsAfterDeath, atomic.LoadInt32(&c.calls))
}

func TestShutdownDrainsQueue(t *testing.T) {
	h := dispatch.NewHost(dispatch.Options{CheckInterval: time.Hour})
	var ran int32
	h.Schedule(func() { atomic.AddInt32(&ran, 1) })
	require.NoError(t, h.Shutdown(context.Background()))
	require.Equal(t, int32(1), atomic.LoadInt32(&ran))
}
