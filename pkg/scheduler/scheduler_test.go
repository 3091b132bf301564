package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tplscan/tplscan/pkg/finding"
	"github.com/tplscan/tplscan/pkg/target"
	"github.com/tplscan/tplscan/pkg/template"
)

type stubTemplate struct {
	md template.Metadata
}

func (s *stubTemplate) Metadata() *template.Metadata { return &s.md }
func (s *stubTemplate) Execute(context.Context, target.Target, *target.Context) ([]finding.Finding, error) {
	return nil, nil
}
func (s *stubTemplate) Validate() error                       { return nil }
func (s *stubTemplate) SupportedProtocols() []target.Protocol { return nil }

func stub(id string, sev finding.Severity) template.Template {
	return &stubTemplate{md: template.Metadata{ID: id, Severity: sev}}
}

func TestScheduleOrdersBySeverity(t *testing.T) {
	s := New()
	s.Schedule(
		stub("low", finding.Low),
		stub("crit", finding.Critical),
		stub("info", finding.Info),
		stub("med", finding.Medium),
		stub("high", finding.High),
	)
	assert.Equal(t, 5, s.PendingCount())

	var order []string
	var priorities []int
	for {
		next, ok := s.Next()
		if !ok {
			break
		}
		order = append(order, next.TemplateID)
		priorities = append(priorities, next.Priority)
	}
	assert.Equal(t, []string{"crit", "high", "med", "low", "info"}, order)
	assert.Equal(t, []int{1000, 750, 500, 250, 100}, priorities)
	assert.Equal(t, 0, s.PendingCount())
}

func TestNextOnEmpty(t *testing.T) {
	s := New()
	_, ok := s.Next()
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	s := New()
	s.Schedule(stub("a", finding.High))
	s.Clear()
	assert.Equal(t, 0, s.PendingCount())
}

func TestOrder(t *testing.T) {
	ordered := Order([]template.Template{
		stub("b", finding.Low),
		stub("a", finding.Critical),
	})
	require.Len(t, ordered, 2)
	assert.Equal(t, "a", ordered[0].Metadata().ID)
	assert.Equal(t, "b", ordered[1].Metadata().ID)
}

func TestResourceManager(t *testing.T) {
	rm := NewResourceManager(100, 2)

	require.True(t, rm.CanAllocate(50))
	require.NoError(t, rm.Allocate(50))
	assert.Equal(t, int64(50), rm.CurrentMemoryBytes())
	assert.Equal(t, 1, rm.CurrentConcurrent())

	assert.Error(t, rm.Allocate(60), "memory budget exceeded")
	require.NoError(t, rm.Allocate(50))
	assert.Error(t, rm.Allocate(0), "concurrency budget exceeded")

	rm.Release(50)
	rm.Release(50)
	rm.Release(50) // saturates at zero
	assert.Equal(t, int64(0), rm.CurrentMemoryBytes())
	assert.Equal(t, 0, rm.CurrentConcurrent())
}
