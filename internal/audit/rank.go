package audit

import (
	"container/heap"
	"sort"

	"github.com/sells-group/bqaudit-cli/internal/model"
)

// Ranker maintains the bounded top-N set of most expensive jobs. Records
// are offered in arrival order; duplicates by (job_id, region) collapse to
// the first occurrence, and ties on the ranking key retain the earlier
// arrival. Ranker is not safe for concurrent use; it is owned by the
// single-threaded merge phase.
type Ranker struct {
	capacity int
	seen     map[model.JobKey]struct{}
	entries  rankHeap
	seq      int
	offered  int
}

type rankedRecord struct {
	rec model.JobRecord
	seq int
}

// NewRanker creates a Ranker holding at most capacity records.
func NewRanker(capacity int) *Ranker {
	return &Ranker{
		capacity: capacity,
		seen:     make(map[model.JobKey]struct{}),
	}
}

// Offer considers one record for retention.
func (r *Ranker) Offer(rec model.JobRecord) {
	r.offered++

	key := rec.Key()
	if _, dup := r.seen[key]; dup {
		// First-seen wins; later duplicates from overlapping pages are
		// redundant, not corrections.
		return
	}
	r.seen[key] = struct{}{}

	entry := rankedRecord{rec: rec, seq: r.seq}
	r.seq++

	if r.capacity <= 0 {
		return
	}

	if r.entries.Len() < r.capacity {
		heap.Push(&r.entries, entry)
		return
	}

	// Evict the current minimum only on a strictly greater key: an equal
	// key keeps the earlier arrival.
	min := r.entries[0]
	if rec.RankKey().Compare(min.rec.RankKey()) > 0 {
		r.entries[0] = entry
		heap.Fix(&r.entries, 0)
	}
}

// OfferAll considers records in slice order.
func (r *Ranker) OfferAll(recs []model.JobRecord) {
	for _, rec := range recs {
		r.Offer(rec)
	}
}

// Offered returns how many records were considered, duplicates included.
func (r *Ranker) Offered() int {
	return r.offered
}

// Distinct returns how many distinct (job_id, region) identities were seen.
func (r *Ranker) Distinct() int {
	return len(r.seen)
}

// Ranked returns the retained records sorted descending by ranking key,
// with ties broken by arrival order. The Ranker remains usable afterwards.
func (r *Ranker) Ranked() []model.JobRecord {
	entries := make([]rankedRecord, len(r.entries))
	copy(entries, r.entries)

	sort.Slice(entries, func(i, j int) bool {
		c := entries[i].rec.RankKey().Compare(entries[j].rec.RankKey())
		if c != 0 {
			return c > 0
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]model.JobRecord, len(entries))
	for i, e := range entries {
		out[i] = e.rec
	}
	return out
}

// rankHeap is a min-heap by ranking key. Among equal keys the later
// arrival sits closer to the root so it is evicted first.
type rankHeap []rankedRecord

func (h rankHeap) Len() int { return len(h) }

func (h rankHeap) Less(i, j int) bool {
	c := h[i].rec.RankKey().Compare(h[j].rec.RankKey())
	if c != 0 {
		return c < 0
	}
	return h[i].seq > h[j].seq
}

func (h rankHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *rankHeap) Push(x any) {
	*h = append(*h, x.(rankedRecord))
}

func (h *rankHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
