package eventbus

import (
	"sync"
	"testing"
)

func TestPublish_FansOutToAllSubscribers(t *testing.T) {
	t.Parallel()
	b := New[int](4)
	s1, s2 := b.Subscribe(), b.Subscribe()

	if n := b.Publish(7); n != 2 {
		t.Fatalf("Publish delivered to %d, want 2", n)
	}
	for i, s := range []*Subscription[int]{s1, s2} {
		if got := <-s.C(); got != 7 {
			t.Errorf("subscriber %d got %d, want 7", i, got)
		}
	}
}

func TestPublish_FullBufferDropsWithoutBlocking(t *testing.T) {
	t.Parallel()
	b := New[string](1)
	slow := b.Subscribe()
	fast := b.Subscribe()

	b.Publish("a")
	<-fast.C()
	b.Publish("b")

	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
	if got := <-slow.C(); got != "a" {
		t.Errorf("slow got %q, want a", got)
	}
	if got := <-fast.C(); got != "b" {
		t.Errorf("fast got %q, want b", got)
	}
}

func TestSubscriptionClose(t *testing.T) {
	t.Parallel()
	b := New[int](0)
	s := b.Subscribe()
	s.Close()
	s.Close()

	if _, ok := <-s.C(); ok {
		t.Error("channel should be closed")
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
	if n := b.Publish(1); n != 0 {
		t.Errorf("Publish delivered to %d, want 0", n)
	}
}

func TestBusClose(t *testing.T) {
	t.Parallel()
	b := New[int](2)
	s := b.Subscribe()
	b.Publish(1)
	b.Close()
	b.Close()

	var got []int
	for v := range s.C() {
		got = append(got, v)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("drained %v, want [1]", got)
	}
	late := b.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Error("subscription to closed bus should be closed")
	}
	s.Close()
}

func TestConcurrentPublishAndClose(t *testing.T) {
	t.Parallel()
	b := New[int](8)
	subs := make([]*Subscription[int], 4)
	for i := range subs {
		subs[i] = b.Subscribe()
	}

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				b.Publish(i*100 + j)
			}
		}()
	}
	for _, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range s.C() {
			}
		}()
	}
	subs[0].Close()
	b.Close()
	wg.Wait()
}
