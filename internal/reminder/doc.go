// Package reminder turns a task's due date and reminder offsets into
// scheduled jobs and handles those jobs when they fire.
//
// A reminder moves from pending to exactly one of sent, failed or
// cancelled. Every transition is a compare-and-set on the stored status,
// so a job delivered twice by the at-least-once job runner publishes at
// most one notification.
package reminder
