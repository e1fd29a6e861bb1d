// Package store defines the persistence contract shared by the distributed
// key-value backend and the relational fallback backend. Both backends scope
// every read and write by owner and report foreign records as ErrNotFound.
package store
