package bridge

// fifo is an unbounded first-in first-out queue. Not safe for concurrent use.
type fifo[T any] struct {
	items []T
}

func (q *fifo[T]) push(item T) {
	q.items = append(q.items, item)
}

func (q *fifo[T]) pop() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

func (q *fifo[T]) reset() { q.items = nil }
