package fold

import "context"

func recv[T any](ctx context.Context, ch <-chan T, closed error) (T, error) {
	select {
	case v, ok := <-ch:
		if !ok {
			var zero T
			return zero, closed
		}
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Feed writes items to ch in order, reps times over. It does not close ch.
func Feed[T any](ctx context.Context, ch chan<- T, items []T, reps int) error {
	for range reps {
		for _, v := range items {
			if err := send(ctx, ch, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Drain reads exactly n values from ch. A channel closed early yields the
// values read so far and closed.
func Drain[T any](ctx context.Context, ch <-chan T, n int, closed error) ([]T, error) {
	out := make([]T, 0, n)
	for range n {
		v, err := recv(ctx, ch, closed)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}
