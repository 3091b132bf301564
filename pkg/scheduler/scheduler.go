// Package scheduler orders templates for execution by severity-derived
// priority and tracks resource budgets.
package scheduler

import (
	"container/heap"

	"github.com/tplscan/tplscan/pkg/finding"
	"github.com/tplscan/tplscan/pkg/template"
)

// defaultEstimatedCostMS is assumed per template until real timing
// data exists.
const defaultEstimatedCostMS = 1000

// PrioritizedTemplate is a scheduling entry.
type PrioritizedTemplate struct {
	TemplateID      string
	Priority        int
	SeverityScore   int
	EstimatedCostMS int64
}

// priorityFor maps severity to a scheduling priority. Higher runs
// first.
func priorityFor(sev finding.Severity) int {
	switch sev {
	case finding.Critical:
		return 1000
	case finding.High:
		return 750
	case finding.Medium:
		return 500
	case finding.Low:
		return 250
	default:
		return 100
	}
}

type templateHeap []PrioritizedTemplate

func (h templateHeap) Len() int           { return len(h) }
func (h templateHeap) Less(i, j int) bool { return h[i].Priority > h[j].Priority }
func (h templateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *templateHeap) Push(x any)        { *h = append(*h, x.(PrioritizedTemplate)) }
func (h *templateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler is a priority queue of pending templates. It is not safe
// for concurrent use; the executor consults it before fan-out.
type Scheduler struct {
	queue templateHeap
}

// New returns an empty scheduler.
func New() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.queue)
	return s
}

// Schedule enqueues templates by their severity-derived priority.
func (s *Scheduler) Schedule(templates ...template.Template) {
	for _, t := range templates {
		md := t.Metadata()
		heap.Push(&s.queue, PrioritizedTemplate{
			TemplateID:      md.ID,
			Priority:        priorityFor(md.Severity),
			SeverityScore:   md.Severity.Score(),
			EstimatedCostMS: defaultEstimatedCostMS,
		})
	}
}

// Next pops the highest-priority pending template.
func (s *Scheduler) Next() (PrioritizedTemplate, bool) {
	if s.queue.Len() == 0 {
		return PrioritizedTemplate{}, false
	}
	return heap.Pop(&s.queue).(PrioritizedTemplate), true
}

// PendingCount returns the number of queued templates.
func (s *Scheduler) PendingCount() int {
	return s.queue.Len()
}

// Clear drops all pending templates.
func (s *Scheduler) Clear() {
	s.queue = s.queue[:0]
}

// Order sorts templates by descending priority without mutating the
// scheduler, for callers that want a one-shot ordering.
func Order(templates []template.Template) []template.Template {
	s := New()
	byID := make(map[string][]template.Template, len(templates))
	for _, t := range templates {
		id := t.Metadata().ID
		byID[id] = append(byID[id], t)
	}
	s.Schedule(templates...)

	out := make([]template.Template, 0, len(templates))
	for {
		next, ok := s.Next()
		if !ok {
			break
		}
		queue := byID[next.TemplateID]
		out = append(out, queue[0])
		byID[next.TemplateID] = queue[1:]
	}
	return out
}
