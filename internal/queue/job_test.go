package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{
			name:     "empty batch is pending",
			statuses: nil,
			want:     StatusPending,
		},
		{
			name:     "all completed",
			statuses: []Status{StatusCompleted, StatusCompleted},
			want:     StatusCompleted,
		},
		{
			name:     "any failure wins over progress",
			statuses: []Status{StatusCompleted, StatusFailed},
			want:     StatusFailed,
		},
		{
			name:     "failure wins even while others still run",
			statuses: []Status{StatusProcessing, StatusFailed, StatusPending},
			want:     StatusFailed,
		},
		{
			name:     "mixed completed and processing",
			statuses: []Status{StatusCompleted, StatusCompleted, StatusProcessing},
			want:     StatusProcessing,
		},
		{
			name:     "completed plus pending still counts as processing",
			statuses: []Status{StatusCompleted, StatusPending},
			want:     StatusProcessing,
		},
		{
			name:     "all pending",
			statuses: []Status{StatusPending, StatusPending},
			want:     StatusPending,
		},
		{
			name:     "single processing",
			statuses: []Status{StatusProcessing},
			want:     StatusProcessing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateStatus(tt.statuses))
		})
	}
}

func TestCountStatuses(t *testing.T) {
	jobs := []Job{
		{Status: StatusPending},
		{Status: StatusPending},
		{Status: StatusProcessing},
		{Status: StatusCompleted},
		{Status: StatusFailed},
	}

	stats := CountStatuses(jobs)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Processing)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusProcessing.Valid())
	assert.True(t, StatusCompleted.Valid())
	assert.True(t, StatusFailed.Valid())
	assert.False(t, Status("RUNNING").Valid())
	assert.False(t, Status("").Valid())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
