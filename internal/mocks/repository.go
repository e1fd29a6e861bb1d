package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/repository"
	"github.com/phrazzld/cadence-api/internal/runtime"
	"github.com/stretchr/testify/mock"
)

// MockRepository implements repository.Repository with testify/mock.
type MockRepository struct {
	mock.Mock

	ModeValue runtime.Mode
}

var _ repository.Repository = (*MockRepository)(nil)

func taskOrNil(v any) *domain.Task {
	t, _ := v.(*domain.Task)
	return t
}

// Create implements repository.Repository.
func (m *MockRepository) Create(ctx context.Context, ownerID uuid.UUID, in domain.TaskInput) (*domain.Task, error) {
	args := m.Called(ctx, ownerID, in)
	return taskOrNil(args.Get(0)), args.Error(1)
}

// Get implements repository.Repository.
func (m *MockRepository) Get(ctx context.Context, ownerID, id uuid.UUID) (*domain.Task, error) {
	args := m.Called(ctx, ownerID, id)
	return taskOrNil(args.Get(0)), args.Error(1)
}

// Update implements repository.Repository.
func (m *MockRepository) Update(
	ctx context.Context,
	ownerID, id uuid.UUID,
	patch domain.TaskPatch,
) (*domain.Task, error) {
	args := m.Called(ctx, ownerID, id, patch)
	return taskOrNil(args.Get(0)), args.Error(1)
}

// Complete implements repository.Repository.
func (m *MockRepository) Complete(ctx context.Context, ownerID, id uuid.UUID) (*repository.CompletionResult, error) {
	args := m.Called(ctx, ownerID, id)
	res, _ := args.Get(0).(*repository.CompletionResult)
	return res, args.Error(1)
}

// Delete implements repository.Repository.
func (m *MockRepository) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	return m.Called(ctx, ownerID, id).Error(0)
}

// DeleteSeries implements repository.Repository.
func (m *MockRepository) DeleteSeries(ctx context.Context, ownerID, id uuid.UUID) error {
	return m.Called(ctx, ownerID, id).Error(0)
}

// List implements repository.Repository.
func (m *MockRepository) List(ctx context.Context, ownerID uuid.UUID, filter domain.TaskFilter) ([]*domain.Task, error) {
	args := m.Called(ctx, ownerID, filter)
	tasks, _ := args.Get(0).([]*domain.Task)
	return tasks, args.Error(1)
}

// Search implements repository.Repository.
func (m *MockRepository) Search(
	ctx context.Context,
	ownerID uuid.UUID,
	query string,
	filter domain.TaskFilter,
	page domain.Page,
) ([]*domain.Task, int, error) {
	args := m.Called(ctx, ownerID, query, filter, page)
	tasks, _ := args.Get(0).([]*domain.Task)
	return tasks, args.Int(1), args.Error(2)
}

// ListTags implements repository.Repository.
func (m *MockRepository) ListTags(ctx context.Context, ownerID uuid.UUID) ([]domain.Tag, error) {
	args := m.Called(ctx, ownerID)
	tags, _ := args.Get(0).([]domain.Tag)
	return tags, args.Error(1)
}

// Mode implements repository.Repository. It returns ModeValue, or
// distributed when unset.
func (m *MockRepository) Mode() runtime.Mode {
	if m.ModeValue == "" {
		return runtime.ModeDistributed
	}
	return m.ModeValue
}
