package service

import (
	"context"
	"errors"
	"testing"
)

func TestOptimistic_RestoresOnFailure(t *testing.T) {
	state := []string{"a", "b"}
	op := Optimistic[[]string]{
		Snapshot: func() []string { return append([]string(nil), state...) },
		Apply:    func() { state = append(state, "c") },
		Restore:  func(s []string) { state = s },
	}

	boom := errors.New("boom")
	if err := op.Run(context.Background(), func(context.Context) error {
		if len(state) != 3 {
			t.Fatalf("mutation not applied before the call")
		}
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("Run err = %v", err)
	}
	if len(state) != 2 || state[0] != "a" || state[1] != "b" {
		t.Fatalf("state = %v", state)
	}

	if err := op.Run(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(state) != 3 {
		t.Fatalf("successful call must keep the mutation, state = %v", state)
	}
}
