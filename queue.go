package incremental

// pathQueue is a FIFO of document paths with O(1) amortized push and pop.
// Popped slots are reclaimed once the consumed prefix dominates the buffer.
type pathQueue struct {
	items []DocPath
	head  int
}

func newPathQueue(seed []DocPath) *pathQueue {
	q := &pathQueue{items: make([]DocPath, 0, max(len(seed), 16))}
	q.items = append(q.items, seed...)
	return q
}

func (q *pathQueue) push(p DocPath) {
	q.items = append(q.items, p)
}

func (q *pathQueue) pop() (DocPath, bool) {
	if q.head >= len(q.items) {
		return "", false
	}
	p := q.items[q.head]
	q.items[q.head] = ""
	q.head++

	if q.head > 1024 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return p, true
}

func (q *pathQueue) len() int {
	return len(q.items) - q.head
}
