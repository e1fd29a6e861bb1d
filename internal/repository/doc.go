// Package repository is the storage-agnostic entry point for task
// mutations. It validates input, writes through the bound store.Backend,
// runs the recurrence engine inside the completion write, keeps reminders
// in step with due dates, and publishes lifecycle events once the write
// has committed. Publish failures never fail the mutation.
package repository
