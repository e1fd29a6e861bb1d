package audit

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleRecords() []*domain.AuditRecord {
	parent, rule := uuid.New(), uuid.New()
	occurrence := 2
	return []*domain.AuditRecord{
		{
			ID:        uuid.New(),
			EventID:   uuid.New(),
			TaskID:    uuid.New(),
			EventType: domain.AuditTaskCompleted,
			Payload:   []byte(`{"title":"Weekly review"}`),
			CreatedAt: time.Date(2026, 3, 6, 17, 5, 0, 0, time.UTC),
		},
		{
			ID:               uuid.New(),
			EventID:          uuid.New(),
			TaskID:           uuid.New(),
			EventType:        domain.AuditInstanceCreated,
			ParentTaskID:     &parent,
			RuleID:           &rule,
			OccurrenceNumber: &occurrence,
			Payload:          []byte(`{}`),
			CreatedAt:        time.Date(2026, 3, 6, 17, 5, 1, 0, time.UTC),
		},
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"xlsx", FormatXLSX, false},
		{" CSV ", FormatCSV, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, domain.ErrValidation)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestExport_CSV(t *testing.T) {
	t.Parallel()
	records := sampleRecords()
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, records, FormatCSV))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Created At", rows[0][0])
	assert.Equal(t, "2026-03-06T17:05:00Z", rows[1][0])
	assert.Equal(t, "task_completed", rows[1][1])
	assert.Empty(t, rows[1][3])
	assert.Equal(t, records[1].ParentTaskID.String(), rows[2][3])
	assert.Equal(t, "2", rows[2][5])
	assert.Equal(t, `{"title":"Weekly review"}`, rows[1][7])
}

func TestExport_XLSX(t *testing.T) {
	t.Parallel()
	records := sampleRecords()
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, records, FormatXLSX))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Event Type", rows[0][1])
	assert.Equal(t, "instance_created", rows[2][1])
	assert.Equal(t, "2", rows[2][5])
	assert.Equal(t, records[1].RuleID.String(), rows[2][4])
}

func TestExport_UnknownFormat(t *testing.T) {
	t.Parallel()
	assert.ErrorIs(t, Export(&bytes.Buffer{}, nil, Format("pdf")), domain.ErrValidation)
}
