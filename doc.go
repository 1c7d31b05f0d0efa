// Package structsched implements a cooperative, priority-propagating
// scheduler for structured tasks.
//
// Every task has a base priority, fixed when it is created, and an effective
// priority that can only rise while the task is live. Workers always run the
// most urgent runnable task. When a task suspends to await another, the
// awaited task is escalated to the awaiter's effective priority, as is
// everything it is itself waiting on and every structured child it owns, so
// urgent work is never stuck behind the less urgent work it depends on.
//
// Structured tasks are spawned into a scope: a [TaskGroup] or a single-child
// [Binding]. Their base priority defaults to the owner's base priority and
// they follow the owner's escalations. A scope cannot be closed while any of
// its children is live. Unstructured tasks ([Scheduler.Spawn]) inherit only
// their creator's base priority and are escalated solely by tasks that await
// them directly.
//
// Blocking on anything other than a suspension point, such as [Handle.Done],
// is invisible to the scheduler and never escalates. This is how a caller
// observes its children's un-escalated priorities.
package structsched
