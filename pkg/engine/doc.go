// Package engine implements resumable project generation.
//
// A project configuration is validated against the catalog and turned into a
// task graph: one scaffolding task for the framework, one installation task
// per selected module, and a trailing cleanup task. The scheduler executes
// the graph respecting dependencies, stops at the first failure, and skips
// the failed task's dependents. Sessions that fail for transient reasons
// (a command exiting non-zero, a timeout) can be resumed: completed tasks
// keep their results and only the remaining work is re-run.
//
// Session state is observed two ways: point-in-time snapshots through
// Manager.GetProjectStatus, and push notifications through the event bus.
package engine
