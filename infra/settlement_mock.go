package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockSettlementClient is the settlement counterpart of MockDAClient.
type MockSettlementClient struct {
	mu sync.Mutex

	ConfirmAfter int
	Revert       bool
	SubmitErr    error

	submissions map[SubmissionHandle]StateDiff
	checks      map[SubmissionHandle]int
	submitCalls int
}

func NewMockSettlementClient() *MockSettlementClient {
	return &MockSettlementClient{
		submissions: make(map[SubmissionHandle]StateDiff),
		checks:      make(map[SubmissionHandle]int),
	}
}

func (c *MockSettlementClient) SubmitStateUpdate(ctx context.Context, diff StateDiff, correlation uuid.UUID) (SubmissionHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.submitCalls++
	if c.SubmitErr != nil {
		return "", c.SubmitErr
	}

	encoded, _ := json.Marshal(map[string]string{
		"tx_hash": fmt.Sprintf("0xmock%s%d", correlation, c.submitCalls),
	})
	handle := SubmissionHandle(encoded)
	c.submissions[handle] = diff
	return handle, nil
}

func (c *MockSettlementClient) CheckConfirmation(ctx context.Context, handle SubmissionHandle) (ConfirmationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.submissions[handle]; !ok {
		return ConfirmationReverted, nil
	}
	if c.Revert {
		return ConfirmationReverted, nil
	}
	c.checks[handle]++
	if c.checks[handle] <= c.ConfirmAfter {
		return ConfirmationPending, nil
	}
	return ConfirmationConfirmed, nil
}

// SubmitCalls reports how many times SubmitStateUpdate was invoked.
func (c *MockSettlementClient) SubmitCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitCalls
}

// Submissions returns the diffs submitted so far.
func (c *MockSettlementClient) Submissions() []StateDiff {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StateDiff, 0, len(c.submissions))
	for _, diff := range c.submissions {
		out = append(out, diff)
	}
	return out
}

var _ SettlementClient = (*MockSettlementClient)(nil)
