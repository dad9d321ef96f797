package service

import "context"

// Optimistic applies a local mutation before a remote call and puts the
// captured snapshot back when the call fails. Snapshot and Apply run before
// the call; Restore runs only on failure.
type Optimistic[S any] struct {
	Snapshot func() S
	Apply    func()
	Restore  func(S)
}

func (o Optimistic[S]) Run(ctx context.Context, remote func(context.Context) error) error {
	snap := o.Snapshot()
	o.Apply()
	if err := remote(ctx); err != nil {
		o.Restore(snap)
		return err
	}
	return nil
}
