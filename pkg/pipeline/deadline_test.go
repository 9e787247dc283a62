package pipeline

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fired struct {
	mu  sync.Mutex
	ids []string
	at  []time.Time
}

func (f *fired) fire(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	f.at = append(f.at, time.Now())
}

func (f *fired) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func TestScheduler_OnePendingEntryPerRecording(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var f fired
		s := NewScheduler(f.fire)
		now := time.Now()

		s.Schedule("b", now.Add(2*time.Minute))
		s.Schedule("a", now.Add(3*time.Minute))
		s.Schedule("a", now.Add(time.Minute))
		s.Schedule("c", now.Add(time.Minute))

		want := []Deadline{
			{RecordingID: "a", At: now.Add(time.Minute)},
			{RecordingID: "c", At: now.Add(time.Minute)},
			{RecordingID: "b", At: now.Add(2 * time.Minute)},
		}
		if diff := cmp.Diff(want, s.Pending()); diff != "" {
			t.Errorf("pending mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, 3, s.Len())

		assert.True(t, s.Cancel("c"))
		assert.False(t, s.Cancel("c"))
		_, ok := s.Get("c")
		assert.False(t, ok)
		at, ok := s.Get("a")
		require.True(t, ok)
		assert.True(t, at.Equal(now.Add(time.Minute)))
	})
}

func TestScheduler_FiresInOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var f fired
		s := NewScheduler(f.fire)
		start := time.Now()

		s.Schedule("late", start.Add(3*time.Minute))
		s.Schedule("early", start.Add(time.Minute))
		s.Start(t.Context())
		defer s.Stop()

		time.Sleep(90 * time.Second)
		synctest.Wait()
		assert.Equal(t, []string{"early"}, f.snapshot())

		// Scheduling while the loop sleeps wakes it for an earlier deadline.
		s.Schedule("urgent", time.Now().Add(10*time.Second))
		time.Sleep(11 * time.Second)
		synctest.Wait()
		assert.Equal(t, []string{"early", "urgent"}, f.snapshot())

		time.Sleep(2 * time.Minute)
		synctest.Wait()
		assert.Equal(t, []string{"early", "urgent", "late"}, f.snapshot())
		assert.Zero(t, s.Len())

		f.mu.Lock()
		assert.True(t, f.at[0].Equal(start.Add(time.Minute)))
		f.mu.Unlock()
	})
}

func TestScheduler_ReplacedAndCanceledDoNotFire(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var f fired
		s := NewScheduler(f.fire)
		s.Start(t.Context())
		defer s.Stop()

		now := time.Now()
		s.Schedule("pushed", now.Add(time.Minute))
		s.Schedule("canceled", now.Add(time.Minute))
		s.Schedule("pushed", now.Add(10*time.Minute))
		s.Cancel("canceled")

		time.Sleep(5 * time.Minute)
		synctest.Wait()
		assert.Empty(t, f.snapshot())

		time.Sleep(6 * time.Minute)
		synctest.Wait()
		assert.Equal(t, []string{"pushed"}, f.snapshot())
	})
}

func TestScheduler_StopWaitsForFiring(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		release := make(chan struct{})
		var finished bool
		s := NewScheduler(func(ctx context.Context, _ string) {
			<-release
			finished = true
		})
		s.Schedule("r", time.Now())
		s.Start(context.Background())
		synctest.Wait()

		stopped := make(chan struct{})
		go func() {
			s.Stop()
			close(stopped)
		}()
		synctest.Wait()
		select {
		case <-stopped:
			t.Fatal("Stop returned while a deadline was firing")
		default:
		}

		close(release)
		<-stopped
		assert.True(t, finished)
	})
}
