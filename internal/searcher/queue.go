package searcher

// Candidate is a graph node with its distance to the current query.
type Candidate struct {
	Node     uint32
	Distance float32
}

// Queue is a binary heap of candidates without container/heap's interface
// boxing. A nearest-first queue pops the closest candidate; a farthest-first
// queue keeps its worst candidate on top, which is what bounded result sets need.
// Equal distances are ordered by node so searches are deterministic.
type Queue struct {
	farthest bool
	items    []Candidate
}

// NewNearestQueue returns a queue that pops the closest candidate first.
func NewNearestQueue() *Queue {
	return &Queue{items: make([]Candidate, 0, 16)}
}

// NewFarthestQueue returns a queue that pops the farthest candidate first.
func NewFarthestQueue() *Queue {
	return &Queue{farthest: true, items: make([]Candidate, 0, 16)}
}

func (q *Queue) Len() int { return len(q.items) }
func (q *Queue) Reset()   { q.items = q.items[:0] }

// Top peeks at the next candidate Pop would return.
func (q *Queue) Top() (Candidate, bool) {
	if len(q.items) == 0 {
		return Candidate{}, false
	}
	return q.items[0], true
}

func (q *Queue) Push(c Candidate) {
	q.items = append(q.items, c)
	q.up(len(q.items) - 1)
}

// PushBounded keeps at most limit candidates in a farthest-first queue,
// replacing the current worst when c is closer. It reports whether c was kept.
func (q *Queue) PushBounded(c Candidate, limit int) bool {
	if len(q.items) < limit {
		q.Push(c)
		return true
	}
	if len(q.items) == 0 || !q.farthest || !closer(c, q.items[0]) {
		return false
	}
	q.items[0] = c
	q.down(0)
	return true
}

func (q *Queue) Pop() (Candidate, bool) {
	n := len(q.items)
	if n == 0 {
		return Candidate{}, false
	}
	top := q.items[0]
	q.items[0] = q.items[n-1]
	q.items = q.items[:n-1]
	if len(q.items) > 0 {
		q.down(0)
	}
	return top, true
}

// Drain empties the queue and returns its candidates closest first.
func (q *Queue) Drain() []Candidate {
	out := make([]Candidate, len(q.items))
	if q.farthest {
		for i := len(out) - 1; i >= 0; i-- {
			out[i], _ = q.Pop()
		}
		return out
	}
	for i := range out {
		out[i], _ = q.Pop()
	}
	return out
}

func closer(a, b Candidate) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Node < b.Node
}

func (q *Queue) before(i, j int) bool {
	if q.farthest {
		return closer(q.items[j], q.items[i])
	}
	return closer(q.items[i], q.items[j])
}

func (q *Queue) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.before(i, parent) {
			return
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *Queue) down(i int) {
	n := len(q.items)
	for {
		child := 2*i + 1
		if child >= n {
			return
		}
		if right := child + 1; right < n && q.before(right, child) {
			child = right
		}
		if !q.before(child, i) {
			return
		}
		q.items[i], q.items[child] = q.items[child], q.items[i]
		i = child
	}
}
