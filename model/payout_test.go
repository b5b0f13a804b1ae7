package model

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchTransitions(t *testing.T) {
	tests := []struct {
		from    BatchStatus
		to      BatchStatus
		allowed bool
	}{
		{BatchPending, BatchApproved, true},
		{BatchPending, BatchCancelled, true},
		{BatchPending, BatchProcessing, false},
		{BatchApproved, BatchProcessing, true},
		{BatchApproved, BatchCancelled, true},
		{BatchApproved, BatchCompleted, false},
		{BatchProcessing, BatchCompleted, true},
		{BatchProcessing, BatchPartiallyCompleted, true},
		{BatchProcessing, BatchFailed, true},
		{BatchProcessing, BatchCancelled, false},
		{BatchCompleted, BatchProcessing, false},
		{BatchCancelled, BatchApproved, false},
	}
	for _, tt := range tests {
		batch := &PayoutBatch{BatchID: "bat_1", Status: tt.from}
		err := batch.CanTransition(tt.to)
		if tt.allowed {
			assert.NoError(t, err, "%s -> %s should be allowed", tt.from, tt.to)
		} else {
			assert.Error(t, err, "%s -> %s should be rejected", tt.from, tt.to)
		}
	}
}

func TestBatchIsTerminal(t *testing.T) {
	for _, status := range []BatchStatus{BatchCompleted, BatchPartiallyCompleted, BatchFailed, BatchCancelled} {
		assert.True(t, (&PayoutBatch{Status: status}).IsTerminal())
	}
	for _, status := range []BatchStatus{BatchPending, BatchApproved, BatchProcessing} {
		assert.False(t, (&PayoutBatch{Status: status}).IsTerminal())
	}
}

func TestFinalBatchStatus(t *testing.T) {
	completed := &PayoutRecord{Status: PayoutCompleted, NetAmount: big.NewInt(100)}
	failed := &PayoutRecord{Status: PayoutFailed, NetAmount: big.NewInt(100)}
	processing := &PayoutRecord{Status: PayoutProcessing, NetAmount: big.NewInt(100)}

	status, done := FinalBatchStatus([]*PayoutRecord{completed, completed})
	assert.True(t, done)
	assert.Equal(t, BatchCompleted, status)

	status, done = FinalBatchStatus([]*PayoutRecord{failed, failed})
	assert.True(t, done)
	assert.Equal(t, BatchFailed, status)

	status, done = FinalBatchStatus([]*PayoutRecord{completed, failed})
	assert.True(t, done)
	assert.Equal(t, BatchPartiallyCompleted, status)

	_, done = FinalBatchStatus([]*PayoutRecord{completed, processing})
	assert.False(t, done)
}

func TestHoldTransitions(t *testing.T) {
	active := &Hold{HoldID: "hld_1", Status: HoldActive}
	assert.NoError(t, active.CanTransition(HoldCaptured))
	assert.NoError(t, active.CanTransition(HoldReleased))
	assert.Error(t, active.CanTransition(HoldActive))

	captured := &Hold{HoldID: "hld_1", Status: HoldCaptured}
	assert.Error(t, captured.CanTransition(HoldReleased))
	assert.Error(t, captured.CanTransition(HoldCaptured))

	released := &Hold{HoldID: "hld_1", Status: HoldReleased}
	assert.Error(t, released.CanTransition(HoldCaptured))
}

func TestHoldEntryTypeFor(t *testing.T) {
	hold := &Hold{HoldID: "hld_1", Status: HoldActive}
	assert.Equal(t, EntryCapture, hold.EntryTypeFor(HoldCaptured))
	assert.Equal(t, EntryRelease, hold.EntryTypeFor(HoldReleased))
}
