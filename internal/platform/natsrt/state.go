package natsrt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/phrazzld/cadence-api/internal/store"
)

// KVState is keyed state over a JetStream KV bucket. The entry revision is
// the etag: a write or delete that names a revision succeeds only while the
// key is still at that revision.
type KVState struct {
	kv jetstream.KeyValue
}

// NewKVState wraps kv.
func NewKVState(kv jetstream.KeyValue) *KVState {
	return &KVState{kv: kv}
}

// Get returns the value stored at key and its etag.
func (s *KVState) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, mapKVError("get", key, err)
	}
	return entry.Value(), entry.Revision(), nil
}

// Save writes value at key. An etag of zero writes unconditionally;
// otherwise the write fails with store.ErrConflict unless key is still at
// etag. The new etag is returned.
func (s *KVState) Save(ctx context.Context, key string, value []byte, etag uint64) (uint64, error) {
	var (
		rev uint64
		err error
	)
	if etag == 0 {
		rev, err = s.kv.Put(ctx, key, value)
	} else {
		rev, err = s.kv.Update(ctx, key, value, etag)
	}
	if err != nil {
		return 0, mapKVError("save", key, err)
	}
	return rev, nil
}

// Create writes value at key only if key does not exist.
func (s *KVState) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Create(ctx, key, value)
	if err != nil {
		return 0, mapKVError("create", key, err)
	}
	return rev, nil
}

// Delete removes key. A non-zero etag makes the delete conditional.
// Deleting a missing key unconditionally is not an error.
func (s *KVState) Delete(ctx context.Context, key string, etag uint64) error {
	var opts []jetstream.KVDeleteOpt
	if etag != 0 {
		opts = append(opts, jetstream.LastRevision(etag))
	}
	if err := s.kv.Delete(ctx, key, opts...); err != nil {
		if etag == 0 && errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return mapKVError("delete", key, err)
	}
	return nil
}

// Keys returns every live key starting with prefix.
func (s *KVState) Keys(ctx context.Context, prefix string) ([]string, error) {
	return listKeys(ctx, s.kv, prefix)
}

func listKeys(ctx context.Context, kv jetstream.KeyValue, prefix string) ([]string, error) {
	lister, err := kv.ListKeys(ctx, jetstream.MetaOnly())
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// isWrongRevision reports whether err is JetStream's optimistic
// concurrency failure.
func isWrongRevision(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func mapKVError(op, key string, err error) error {
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return fmt.Errorf("kv %s %s: %w", op, key, store.ErrNotFound)
	case isWrongRevision(err):
		return fmt.Errorf("kv %s %s: %w", op, key, store.ErrConflict)
	default:
		return fmt.Errorf("kv %s %s: %w", op, key, err)
	}
}
