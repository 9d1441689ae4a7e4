package orderbook

// rateHeap implements heap.Interface over resting entries. With desc the
// highest rate is on top, otherwise the lowest. Equal rates pop in
// admission order.
type rateHeap struct {
	entries []*Entry
	desc    bool
}

func (h *rateHeap) Len() int { return len(h.entries) }

func (h *rateHeap) Less(i, j int) bool { return h.before(h.entries[i], h.entries[j]) }

func (h *rateHeap) before(a, b *Entry) bool {
	if c := a.Rate.Cmp(b.Rate); c != 0 {
		if h.desc {
			return c > 0
		}
		return c < 0
	}
	return a.Seq < b.Seq
}

func (h *rateHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *rateHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
}

func (h *rateHeap) Pop() interface{} {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	h.entries = old[:n-1]
	return e
}

// Peek returns the top entry without removing it
func (h *rateHeap) Peek() (*Entry, bool) {
	if len(h.entries) == 0 {
		return nil, false
	}
	return h.entries[0], true
}
