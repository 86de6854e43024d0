package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_SOAHappyPath(t *testing.T) {
	path := []JobStatus{
		StatusPending,
		StatusDetectingPages,
		StatusAwaitingPageConfirmation,
		StatusExtracting,
		StatusSaving,
		StatusAnalyzingMerges,
		StatusAwaitingMergeConfirmation,
		StatusInterpreting,
		StatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(JobKindSOA, path[i], path[i+1]),
			"%s -> %s should be allowed", path[i], path[i+1])
	}
}

func TestCanTransition_RejectsSkippedStates(t *testing.T) {
	tests := []struct {
		kind JobKind
		from JobStatus
		to   JobStatus
	}{
		{JobKindSOA, StatusDetectingPages, StatusExtracting},
		{JobKindSOA, StatusAwaitingPageConfirmation, StatusInterpreting},
		{JobKindSOA, StatusExtracting, StatusAnalyzingMerges},
		{JobKindModuleExtraction, StatusPending, StatusCompleted},
		{JobKindEligibility, StatusDetectingSections, StatusExtracting},
	}
	for _, tt := range tests {
		assert.False(t, CanTransition(tt.kind, tt.from, tt.to),
			"%s: %s -> %s should be rejected", tt.kind, tt.from, tt.to)
	}
}

func TestCanTransition_FailedReachableFromAnyNonTerminal(t *testing.T) {
	for _, from := range []JobStatus{
		StatusPending, StatusRunning, StatusDetectingPages,
		StatusAwaitingPageConfirmation, StatusExtracting, StatusSaving,
		StatusAnalyzingMerges, StatusAwaitingMergeConfirmation,
		StatusInterpreting, StatusDetectingSections, StatusValidating,
	} {
		assert.True(t, CanTransition(JobKindSOA, from, StatusFailed), "from=%s", from)
	}
}

func TestCanTransition_TerminalIsImmutable(t *testing.T) {
	for _, from := range []JobStatus{StatusCompleted, StatusCompletedWithErrors, StatusFailed} {
		assert.False(t, CanTransition(JobKindModuleExtraction, from, StatusRunning))
		assert.False(t, CanTransition(JobKindModuleExtraction, from, StatusFailed))
	}
}

func TestJobStatus_IsAwaiting(t *testing.T) {
	assert.True(t, StatusAwaitingPageConfirmation.IsAwaiting())
	assert.True(t, StatusAwaitingMergeConfirmation.IsAwaiting())
	assert.True(t, StatusAwaitingSectionConfirmation.IsAwaiting())
	assert.False(t, StatusExtracting.IsAwaiting())
	assert.False(t, StatusCompleted.IsAwaiting())
}

func TestInitialPhase(t *testing.T) {
	assert.Equal(t, StatusRunning, InitialPhase(JobKindModuleExtraction))
	assert.Equal(t, StatusDetectingPages, InitialPhase(JobKindSOA))
	assert.Equal(t, StatusDetectingSections, InitialPhase(JobKindEligibility))
}
