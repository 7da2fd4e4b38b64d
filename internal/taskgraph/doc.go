// Package taskgraph manages the task dependency graph inside a session:
// creation, status transitions, dependency resolution, retry eligibility, and
// progress aggregation.
//
// The graph is small (3-10 nodes) and lives entirely inside the Session
// Store's task collection; this package holds no state of its own. Every
// operation is a guarded read-modify-write through the session Manager, so
// two stateless server instances mutating the same session contend on the
// session's version stamp instead of corrupting each other's writes.
//
// A task is ready when it is pending and every id in its DependsOn set is in
// the session's completed set. GetNextTask scans tasks in creation order and
// returns the first ready one; the controller calls it once per scheduling
// cycle so at most one task per session is ever in progress.
//
// Usage:
//
//	graph := taskgraph.NewManager(sessions, logger, 3)
//
//	tasks, err := graph.CreateTasks(ctx, sessionID, inputs)
//	next, err := graph.GetNextTask(ctx, sessionID)
//	if next != nil {
//	    // ... delegate ...
//	    _, err = graph.UpdateTask(ctx, sessionID, next.ID, taskgraph.Patch{Status: &completed})
//	}
package taskgraph
