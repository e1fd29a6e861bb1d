package natsrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/phrazzld/cadence-api/internal/jobs"
)

// JobStore keeps scheduled jobs in a JetStream KV bucket keyed by handle.
// Claiming deletes the entry at the revision the sweeper read, so when
// several instances sweep the same bucket only one of them fires a job.
type JobStore struct {
	kv jetstream.KeyValue
}

// NewJobStore wraps kv.
func NewJobStore(kv jetstream.KeyValue) *JobStore {
	return &JobStore{kv: kv}
}

var _ jobs.Store = (*JobStore)(nil)

// Put implements jobs.Store.
func (s *JobStore) Put(ctx context.Context, job *jobs.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	rev, err := s.kv.Put(ctx, job.Handle, data)
	if err != nil {
		return fmt.Errorf("kv put job %s: %w", job.Handle, err)
	}
	job.Revision = rev
	return nil
}

// Delete implements jobs.Store.
func (s *JobStore) Delete(ctx context.Context, handle string) error {
	if _, err := s.kv.Get(ctx, handle); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return jobs.ErrJobNotFound
		}
		return fmt.Errorf("kv get job %s: %w", handle, err)
	}
	if err := s.kv.Delete(ctx, handle); err != nil {
		return fmt.Errorf("kv delete job %s: %w", handle, err)
	}
	return nil
}

// Due implements jobs.Store.
func (s *JobStore) Due(ctx context.Context, now time.Time) ([]*jobs.Job, error) {
	keys, err := listKeys(ctx, s.kv, "")
	if err != nil {
		return nil, err
	}

	var due []*jobs.Job
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
				continue
			}
			return nil, fmt.Errorf("kv get job %s: %w", key, err)
		}
		var job jobs.Job
		if err := json.Unmarshal(entry.Value(), &job); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", key, err)
		}
		job.Revision = entry.Revision()
		if job.Due(now) {
			due = append(due, &job)
		}
	}
	return due, nil
}

// Claim implements jobs.Store.
func (s *JobStore) Claim(ctx context.Context, job *jobs.Job) (bool, error) {
	err := s.kv.Delete(ctx, job.Handle, jetstream.LastRevision(job.Revision))
	switch {
	case err == nil:
		return true, nil
	case isWrongRevision(err), errors.Is(err, jetstream.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("kv claim job %s: %w", job.Handle, err)
	}
}
