// Package notify fans reminder notifications out to live client
// connections as server-sent events.
//
// Every connection owns a bounded queue and a writer goroutine, so a slow
// client only ever loses its own oldest frames. Frame ids come from one
// process-wide sequence; a reconnecting client that reports a stale or
// unknown id receives an informational gap notice, never a replay.
package notify
