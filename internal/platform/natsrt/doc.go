// Package natsrt adapts a NATS JetStream server into the distributed
// runtime: keyed state with revisions in a KV bucket, pub/sub on prefixed
// subjects, and a job store that lets concurrent sweepers claim each job
// once.
package natsrt
