package domain

import (
	"time"

	"github.com/google/uuid"
)

// Frequency is the unit a recurrence rule advances by.
type Frequency string

// Supported frequencies
const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Valid reports whether f is a supported frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// RecurrenceInput describes the rule a new task should repeat under.
type RecurrenceInput struct {
	Frequency     Frequency  `json:"frequency"`
	Interval      int        `json:"interval"`
	EndDate       *time.Time `json:"end_date"`
	OccurrenceCap *int       `json:"occurrence_cap"`
}

// RecurrenceRule drives generation of successor occurrences. The task the
// rule was created with counts as occurrence 1.
type RecurrenceRule struct {
	ID              uuid.UUID  `json:"id"`
	OwnerID         uuid.UUID  `json:"owner_id"`
	Frequency       Frequency  `json:"frequency"`
	Interval        int        `json:"interval"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	OccurrenceCap   *int       `json:"occurrence_cap,omitempty"`
	OccurrenceCount int        `json:"occurrence_count"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewRecurrenceRule creates an active rule with the first occurrence counted.
func NewRecurrenceRule(ownerID uuid.UUID, in RecurrenceInput, now time.Time) (*RecurrenceRule, error) {
	now = now.UTC()
	interval := in.Interval
	if interval == 0 {
		interval = 1
	}
	r := &RecurrenceRule{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Frequency:       in.Frequency,
		Interval:        interval,
		EndDate:         utcPtr(in.EndDate),
		OccurrenceCap:   in.OccurrenceCap,
		OccurrenceCount: 1,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks if the rule has valid data.
func (r *RecurrenceRule) Validate() error {
	if r.ID == uuid.Nil {
		return NewValidationError("rule_id", "cannot be empty", ErrInvalidID)
	}
	if r.OwnerID == uuid.Nil {
		return NewValidationError("owner_id", "cannot be empty", ErrInvalidID)
	}
	if !r.Frequency.Valid() {
		return invalid("frequency", "must be one of daily, weekly, monthly, yearly")
	}
	if r.Interval < 1 {
		return invalid("interval", "must be at least 1")
	}
	if r.OccurrenceCap != nil {
		if *r.OccurrenceCap < 1 {
			return invalid("occurrence_cap", "must be at least 1")
		}
		if r.OccurrenceCount > *r.OccurrenceCap {
			return invalid("occurrence_count", "exceeds occurrence cap")
		}
	}
	return nil
}

// Clone returns a deep copy of r.
func (r *RecurrenceRule) Clone() *RecurrenceRule {
	c := *r
	c.EndDate = utcPtr(r.EndDate)
	if r.OccurrenceCap != nil {
		limit := *r.OccurrenceCap
		c.OccurrenceCap = &limit
	}
	return &c
}
