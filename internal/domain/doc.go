// Package domain contains the task lifecycle entities: tasks, recurrence
// rules, reminders, notification events and audit records, together with
// the validation rules shared by every storage backend.
package domain
