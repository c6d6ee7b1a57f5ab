// Package workflow builds in-memory DAGs of jobs and submits them to the
// queue as a linked batch. Dependencies are recorded on each job row, so
// the workers' ordinary dependency gate schedules the graph; the workflow
// itself holds no runtime state once submitted.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"jobq/internal/storage"
)

var (
	// ErrUnknownDependency indicates a depends-on job that was never added
	// to this workflow.
	ErrUnknownDependency = errors.New("workflow: unknown dependency")
	// ErrCycleDetected indicates the dependency graph is not a DAG.
	ErrCycleDetected = errors.New("workflow: dependency cycle detected")
)

// Workflow is a named group of jobs with dependency relations.
type Workflow struct {
	ID   string
	Name string

	jobs    []*storage.Job
	members map[string]bool
}

// New creates an empty workflow with a fresh id.
func New(name string) *Workflow {
	return &Workflow{
		ID:      uuid.NewString(),
		Name:    name,
		members: make(map[string]bool),
	}
}

// Add appends a job to the workflow. Every job in dependsOn must already
// have been added; the dependency is recorded on the job itself so workers
// can evaluate eligibility from the row alone.
func (w *Workflow) Add(j *storage.Job, dependsOn ...*storage.Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	for _, dep := range dependsOn {
		if !w.members[dep.ID] {
			return fmt.Errorf("%w: %s (add it to the workflow first)", ErrUnknownDependency, dep.Name)
		}
		j.Dependencies = append(j.Dependencies, dep.ID)
	}
	w.jobs = append(w.jobs, j)
	w.members[j.ID] = true
	return nil
}

// Jobs returns the jobs added so far, in insertion order.
func (w *Workflow) Jobs() []*storage.Job { return w.jobs }

// SubmitAll validates the graph and submits every job tagged with the
// workflow id, in topological order. It returns a map from job name to
// assigned job id. Submission is sequential: a dependency that is not yet
// visible only keeps its dependents pending, so partial visibility during
// the batch is harmless.
func (w *Workflow) SubmitAll(ctx context.Context, store *storage.Store) (map[string]string, error) {
	order, err := w.topoOrder()
	if err != nil {
		return nil, err
	}

	ids := make(map[string]string, len(order))
	for _, j := range order {
		id, err := store.SubmitWorkflow(ctx, j, w.ID)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: submit %s: %w", w.Name, j.Name, err)
		}
		ids[j.Name] = id
	}
	return ids, nil
}

// topoOrder returns the jobs in dependency order (Kahn's algorithm), or
// ErrCycleDetected.
func (w *Workflow) topoOrder() ([]*storage.Job, error) {
	indegree := make(map[string]int, len(w.jobs))
	dependents := make(map[string][]string)
	byID := make(map[string]*storage.Job, len(w.jobs))

	for _, j := range w.jobs {
		byID[j.ID] = j
		for _, dep := range j.Dependencies {
			// Dependencies outside the workflow (pre-existing job ids) do
			// not constrain submission order.
			if !w.members[dep] {
				continue
			}
			indegree[j.ID]++
			dependents[dep] = append(dependents[dep], j.ID)
		}
	}

	// Seed with roots in insertion order for a stable result.
	var queue []string
	for _, j := range w.jobs {
		if indegree[j.ID] == 0 {
			queue = append(queue, j.ID)
		}
	}

	order := make([]*storage.Job, 0, len(w.jobs))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, byID[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(w.jobs) {
		return nil, fmt.Errorf("%w in workflow %s", ErrCycleDetected, w.Name)
	}
	return order, nil
}
