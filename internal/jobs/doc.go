// Package jobs runs one-shot scheduled jobs. A Store persists jobs keyed by
// handle, and a Runner sweeps it on a fixed interval, claims each due job so
// that it fires once, and hands it to a Handler on a small worker pool.
package jobs
