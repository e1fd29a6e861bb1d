// Package runtime chooses the storage and messaging binding the process
// runs on. At startup it probes the distributed runtime; when the probe
// fails it binds the fallback relational backend, an in-process bus and an
// in-memory job store, and reports degraded mode. Selection happens once
// per binding: requests never re-probe. Operators trigger a new probe
// explicitly.
package runtime
