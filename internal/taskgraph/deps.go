package taskgraph

import (
	"github.com/forgehq/forge/internal/errors"
	"github.com/forgehq/forge/internal/session"
)

// isReady returns true if the task can be scheduled: it must be pending and
// every id in its DependsOn set must be in the session's completed set.
func isReady(s *session.Session, task *session.Task) bool {
	if task.Status != session.TaskPending {
		return false
	}
	for _, depID := range task.DependsOn {
		if !s.HasCompleted(depID) {
			return false
		}
	}
	return true
}

// nextReady scans tasks in creation order and returns the first ready one,
// or nil when all are done, blocked, or one is already in progress.
func nextReady(s *session.Session) *session.Task {
	for i := range s.Tasks {
		if isReady(s, &s.Tasks[i]) {
			return &s.Tasks[i]
		}
	}
	return nil
}

// validateGraph checks a prospective task collection (existing tasks plus the
// batch being added) for unknown dependencies and cycles. Cycles are rejected
// at creation time; a cyclic graph would otherwise never produce a ready task.
func validateGraph(existing []session.Task, added []session.Task) error {
	ids := make(map[string]bool, len(existing)+len(added))
	for i := range existing {
		ids[existing[i].ID] = true
	}
	for i := range added {
		ids[added[i].ID] = true
	}

	deps := make(map[string][]string, len(ids))
	collect := func(tasks []session.Task) error {
		for i := range tasks {
			for _, depID := range tasks[i].DependsOn {
				if !ids[depID] {
					return errors.NewTaskError("dependency references a task outside the session", errors.ErrUnknownDependency).
						WithTaskID(tasks[i].ID)
				}
				deps[tasks[i].ID] = append(deps[tasks[i].ID], depID)
			}
		}
		return nil
	}
	if err := collect(existing); err != nil {
		return err
	}
	if err := collect(added); err != nil {
		return err
	}

	// Kahn's algorithm: if the topological sort cannot consume every node,
	// the remainder contains a cycle.
	inDegree := make(map[string]int, len(ids))
	dependents := make(map[string][]string, len(ids))
	for id := range ids {
		inDegree[id] = 0
	}
	for id, depIDs := range deps {
		for _, depID := range depIDs {
			inDegree[id]++
			dependents[depID] = append(dependents[depID], id)
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, depID := range dependents[id] {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	if visited != len(ids) {
		return errors.NewTaskError("task batch contains a dependency cycle", errors.ErrDependencyCycle)
	}
	return nil
}
