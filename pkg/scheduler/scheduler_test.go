package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestRunExecutesAllJobsInDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	jobs := []Job{
		{Name: "base", Run: record("base")},
		{Name: "middle", Deps: []string{"base"}, Run: record("middle")},
		{Name: "top", Deps: []string{"middle"}, Run: record("top")},
	}
	s, err := New(jobs, 2, nil)
	require.NoError(t, err)

	events, wait := s.Run(context.Background())
	drain(t, events)
	require.NoError(t, wait())

	require.Equal(t, []string{"base", "middle", "top"}, order)
}

func TestRunDetectsCycle(t *testing.T) {
	jobs := []Job{
		{Name: "a", Deps: []string{"b"}, Run: func(context.Context) error { return nil }},
		{Name: "b", Deps: []string{"a"}, Run: func(context.Context) error { return nil }},
	}
	_, err := New(jobs, 2, nil)
	assert.Error(t, err)
}

func TestRunDetectsUnresolvedDependency(t *testing.T) {
	jobs := []Job{
		{Name: "a", Deps: []string{"missing"}, Run: func(context.Context) error { return nil }},
	}
	_, err := New(jobs, 2, nil)
	assert.Error(t, err)
}

func TestRunAggregatesFailures(t *testing.T) {
	jobs := []Job{
		{Name: "a", Run: func(context.Context) error { return fmt.Errorf("boom a") }},
		{Name: "b", Run: func(context.Context) error { return fmt.Errorf("boom b") }},
	}
	s, err := New(jobs, 2, nil)
	require.NoError(t, err)

	events, wait := s.Run(context.Background())
	drain(t, events)
	err = wait()
	require.Error(t, err)
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	jobs := make([]Job, 6)
	for i := range jobs {
		jobs[i] = Job{
			Name: fmt.Sprintf("job-%d", i),
			Run: func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			},
		}
	}
	s, err := New(jobs, 2, nil)
	require.NoError(t, err)

	events, wait := s.Run(context.Background())
	drain(t, events)
	require.NoError(t, wait())
	assert.LessOrEqual(t, maxActive, 2)
}

func TestReadyJobsOrdersByDescendingCost(t *testing.T) {
	jobs := []Job{
		{Name: "cheap", Cost: 1, Run: func(context.Context) error { return nil }},
		{Name: "expensive", Cost: 100, Run: func(context.Context) error { return nil }},
	}
	s, err := New(jobs, 2, nil)
	require.NoError(t, err)

	ready := s.readyJobs(map[string]bool{}, map[string]bool{})
	require.Len(t, ready, 2)
	assert.Equal(t, "expensive", ready[0].Name)
}
