// Package postgres implements store.Backend on PostgreSQL. It is the
// fallback backend used when the distributed runtime is unreachable at
// startup. Tables are created by the goose migrations embedded in this
// package, every query is scoped by owner_id, and task completion runs in
// a single transaction holding row locks on the task and its rule.
package postgres
