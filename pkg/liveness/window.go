package liveness

// Window is a bounded FIFO. Push returns a new window and never mutates
// the receiver, so windows can live inside copied state values.
type Window[T any] struct {
	items []T
	size  int
}

// NewWindow creates an empty window holding at most size items.
func NewWindow[T any](size int) Window[T] {
	if size < 1 {
		size = 1
	}
	return Window[T]{size: size}
}

// Push appends v, evicting the oldest item when the window is full.
func (w Window[T]) Push(v T) Window[T] {
	size := w.size
	if size < 1 {
		size = 1
	}
	start := 0
	if len(w.items) >= size {
		start = len(w.items) - size + 1
	}
	items := make([]T, 0, size)
	items = append(items, w.items[start:]...)
	items = append(items, v)
	return Window[T]{items: items, size: size}
}

// Len returns the number of items held.
func (w Window[T]) Len() int {
	return len(w.items)
}

// Cap returns the window bound.
func (w Window[T]) Cap() int {
	return w.size
}

// Items returns the held items, oldest first. The slice must not be modified.
func (w Window[T]) Items() []T {
	return w.items
}

// variance returns the population variance of values.
func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}
