package graph

import (
	"errors"
	"sync"
	"testing"
)

func TestDispatchRegistrationOrder(t *testing.T) {
	d := NewDispatcher()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		if err := d.Subscribe("s", func(Packet) error {
			order = append(order, i)
			return nil
		}); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	if errs := d.Dispatch("s", MakeFloat(1).At(1)); len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestFailingCallbackDoesNotBlockNext(t *testing.T) {
	for _, tc := range []struct {
		name  string
		first Callback
	}{
		{"error", func(Packet) error { return errors.New("broken") }},
		{"panic", func(Packet) error { panic("broken") }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDispatcher()
			var got Packet
			_ = d.Subscribe("s", tc.first)
			_ = d.Subscribe("s", func(p Packet) error {
				got = p
				return nil
			})

			errs := d.Dispatch("s", MakeFloat(2).At(9))
			if len(errs) != 1 {
				t.Fatalf("expected one error, got %v", errs)
			}
			var cbErr *CallbackError
			if !errors.As(errs[0], &cbErr) || cbErr.Index != 0 || cbErr.Stream != "s" {
				t.Fatalf("unexpected error %v", errs[0])
			}
			if !errors.Is(errs[0], ErrCallback) {
				t.Fatalf("expected ErrCallback, got %v", errs[0])
			}
			if got.Timestamp() != 9 {
				t.Fatalf("second callback did not receive the packet: %v", got)
			}
			if st := d.Stats("s"); st.Delivered != 1 || st.Failed != 1 {
				t.Fatalf("unexpected stats %+v", st)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	d := NewDispatcher()
	if err := d.Subscribe("", func(Packet) error { return nil }); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for empty stream, got %v", err)
	}
	if err := d.Subscribe("s", nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for nil callback, got %v", err)
	}
	if d.HasSubscribers("s") {
		t.Fatal("rejected subscription was registered")
	}
}

func TestDispatchWithoutSubscribers(t *testing.T) {
	d := NewDispatcher()
	if errs := d.Dispatch("nobody", MakeFloat(1)); errs != nil {
		t.Fatalf("unexpected errors %v", errs)
	}
	if st := d.Stats("nobody"); st != (DeliveryStats{}) {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestSubscribeDuringDispatch(t *testing.T) {
	d := NewDispatcher()
	var wg sync.WaitGroup
	late := 0
	_ = d.Subscribe("s", func(Packet) error {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Subscribe("s", func(Packet) error {
				late++
				return nil
			})
		}()
		wg.Wait()
		return nil
	})

	d.Dispatch("s", MakeFloat(1))
	if late != 0 {
		t.Fatalf("callback added mid-dispatch ran in the same dispatch")
	}
	d.Dispatch("s", MakeFloat(1))
	if late != 1 {
		t.Fatalf("late callback ran %d times", late)
	}
	if got := d.Streams(); len(got) != 1 || got[0] != "s" {
		t.Fatalf("unexpected streams %v", got)
	}
}
