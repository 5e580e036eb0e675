package cache

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSweepNotifiesWithoutRemoving(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(clock, time.Minute, 10)
	var expired []string
	s.Subscribe(ObserverFunc(func(e Event) {
		if e.Kind == EventExpired {
			expired = append(expired, e.Key)
		}
	}))
	sw := NewSweeper(s, 12*time.Second)

	s.Write("early", "v")
	clock.Advance(30 * time.Second)
	s.Write("late", "v")

	clock.Advance(20 * time.Second)
	if n := sw.Sweep(clock.Now()); n != 0 {
		t.Fatalf("swept %d entries before any expired", n)
	}

	clock.Advance(15 * time.Second)
	if n := sw.Sweep(clock.Now()); n != 1 || len(expired) != 1 || expired[0] != "early" {
		t.Fatalf("swept %d, notified %v", n, expired)
	}

	// already reported, not reported again
	clock.Advance(time.Second)
	if n := sw.Sweep(clock.Now()); n != 0 {
		t.Fatalf("swept %d entries again", n)
	}

	clock.Advance(time.Minute)
	if n := sw.Sweep(clock.Now()); n != 1 || expired[1] != "late" {
		t.Fatalf("swept %d, notified %v", n, expired)
	}

	// nothing was removed
	if st := s.Stats(); st.KeyCount != 2 {
		t.Fatalf("key count is %d", st.KeyCount)
	}
	for _, k := range []string{"early", "late"} {
		sr, ok := s.ReadWithStaleness(k)
		if !ok || !sr.Stale {
			t.Fatalf("%s is %+v, %t", k, sr, ok)
		}
	}
}

func TestSweepReportsRewrittenEntryAgain(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(clock, time.Minute, 10)
	sw := NewSweeper(s, time.Second)
	s.Write("k", "v")

	clock.Advance(time.Minute)
	if n := sw.Sweep(clock.Now()); n != 1 {
		t.Fatalf("first sweep %d", n)
	}
	s.Write("k", "v2")
	clock.Advance(time.Minute)
	if n := sw.Sweep(clock.Now()); n != 1 {
		t.Fatalf("second sweep %d", n)
	}
}

func TestSweepIgnoresClockGoingBackwards(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(clock, time.Minute, 10)
	sw := NewSweeper(s, time.Second)
	s.Write("k", "v")
	clock.Advance(2 * time.Minute)

	if n := sw.Sweep(clock.Now()); n != 1 {
		t.Fatalf("first sweep %d", n)
	}
	if n := sw.Sweep(clock.Now().Add(-time.Hour)); n != 0 {
		t.Fatalf("swept %d going backwards", n)
	}
	// the window did not move back
	if n := sw.Sweep(clock.Now()); n != 0 {
		t.Fatalf("swept %d after going backwards", n)
	}
}

func TestFirstSweepReportsEntriesExpiredBeforeStart(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(clock, time.Minute, 10)
	s.Write("old", "v")
	clock.Advance(time.Hour)
	s.Write("fresh", "v")

	sw := NewSweeper(s, time.Second)
	var expired []string
	s.Subscribe(ObserverFunc(func(e Event) {
		expired = append(expired, e.Key)
	}))

	if n := sw.Sweep(clock.Now()); n != 1 || len(expired) != 1 || expired[0] != "old" {
		t.Fatalf("swept %d, notified %v", n, expired)
	}
	if n := sw.Sweep(clock.Now()); n != 0 {
		t.Fatalf("swept %d entries again", n)
	}
}

func TestSweepSurvivesPanickingObserver(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(clock, time.Minute, 10)
	s.Subscribe(ObserverFunc(func(e Event) {
		panic("observer failure")
	}))
	var expired []string
	s.Subscribe(ObserverFunc(func(e Event) {
		expired = append(expired, e.Key)
	}))
	sw := NewSweeper(s, time.Second)
	s.Write("a", "v")
	s.Write("b", "v")

	clock.Advance(2 * time.Minute)
	if n := sw.Sweep(clock.Now()); n != 2 {
		t.Fatalf("swept %d", n)
	}
	if len(expired) != 2 {
		t.Fatalf("later observer notified of %v", expired)
	}
	if st := s.Stats(); st.KeyCount != 2 {
		t.Fatalf("key count is %d", st.KeyCount)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	s := New(Options{TTL: 50 * time.Millisecond})
	var mu sync.Mutex
	notified := 0
	s.Subscribe(ObserverFunc(func(e Event) {
		mu.Lock()
		notified++
		mu.Unlock()
	}))
	s.Write("k", "v")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(s, 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if notified != 1 {
		t.Fatalf("notified %d times", notified)
	}
	if _, ok := s.Read("k"); !ok {
		t.Fatal("expired entry was removed")
	}
}

func TestRunWithoutInterval(t *testing.T) {
	s := New(Options{})
	done := make(chan struct{})
	go func() {
		NewSweeper(s, 0).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper without interval did not return")
	}
}
