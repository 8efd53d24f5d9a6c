package eventbus

import (
	"sync/atomic"
	"testing"
)

func TestPublishDispatchesToSubscribers(t *testing.T) {
	bus := New(nil)
	var got int32

	bus.Subscribe("test.topic", func(payload any) {
		v, _ := payload.(int32)
		atomic.StoreInt32(&got, v)
	})

	bus.Publish("test.topic", int32(42))

	if atomic.LoadInt32(&got) != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(nil)
	var calls int32

	unsub := bus.Subscribe("test.topic", func(payload any) {
		atomic.AddInt32(&calls, 1)
	})

	bus.Publish("test.topic", nil)
	unsub()
	bus.Publish("test.topic", nil)

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestPublishRecoversSubscriberPanic(t *testing.T) {
	bus := New(nil)
	var secondCalled bool

	bus.Subscribe("test.topic", func(payload any) {
		panic("boom")
	})
	bus.Subscribe("test.topic", func(payload any) {
		secondCalled = true
	})

	bus.Publish("test.topic", nil)

	if !secondCalled {
		t.Fatal("expected second subscriber to run despite first panicking")
	}
}

func TestPublishDispatchesInRegistrationOrder(t *testing.T) {
	bus := New(nil)
	var order []int

	bus.Subscribe("test.topic", func(payload any) { order = append(order, 1) })
	bus.Subscribe("test.topic", func(payload any) { order = append(order, 2) })
	bus.Subscribe("test.topic", func(payload any) { order = append(order, 3) })

	bus.Publish("test.topic", nil)

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
