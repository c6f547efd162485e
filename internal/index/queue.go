package index

import "dedupe-go/internal/tree"

// Queue is the FIFO of files waiting to be hashed.
type Queue struct {
	items []*tree.FileNode
	head  int
}

func (q *Queue) Push(f *tree.FileNode) {
	q.items = append(q.items, f)
}

// Pop removes and returns the oldest file, or nil when empty.
func (q *Queue) Pop() *tree.FileNode {
	if q.head >= len(q.items) {
		return nil
	}
	f := q.items[q.head]
	q.items[q.head] = nil
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array
	if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append([]*tree.FileNode(nil), q.items[q.head:]...)
		q.head = 0
	}
	return f
}

func (q *Queue) Len() int {
	return len(q.items) - q.head
}

// Items returns the queued files in order without removing them.
func (q *Queue) Items() []*tree.FileNode {
	out := make([]*tree.FileNode, q.Len())
	copy(out, q.items[q.head:])
	return out
}
