// Package events defines the event envelope published after every task,
// recurrence and reminder state change, and the Bus abstraction that carries
// it.
//
// Two buses exist: MemoryBus delivers in-process and is used in degraded
// mode, while the NATS implementation in platform/natsrt spans instances.
// Publisher wraps either one so that a failed publish is logged and counted
// but never fails the write that produced the event.
package events
