package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockDAClient is a scriptable in-memory DA backend for development mode and
// tests. IncludeAfter controls how many CheckInclusion calls per handle report
// pending before the blob counts as included.
type MockDAClient struct {
	mu sync.Mutex

	IncludeAfter int
	Reject       bool
	PublishErr   error

	published    map[SubmissionHandle][]byte
	checks       map[SubmissionHandle]int
	publishCalls int
}

func NewMockDAClient() *MockDAClient {
	return &MockDAClient{
		published: make(map[SubmissionHandle][]byte),
		checks:    make(map[SubmissionHandle]int),
	}
}

func (c *MockDAClient) Publish(ctx context.Context, data []byte, correlation uuid.UUID) (SubmissionHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.publishCalls++
	if c.PublishErr != nil {
		return "", c.PublishErr
	}

	encoded, _ := json.Marshal(map[string]string{
		"correlation": correlation.String(),
		"seq":         fmt.Sprintf("%d", c.publishCalls),
	})
	handle := SubmissionHandle(encoded)
	c.published[handle] = append([]byte(nil), data...)
	return handle, nil
}

func (c *MockDAClient) CheckInclusion(ctx context.Context, handle SubmissionHandle) (InclusionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.published[handle]; !ok {
		return InclusionRejected, nil
	}
	if c.Reject {
		return InclusionRejected, nil
	}
	c.checks[handle]++
	if c.checks[handle] <= c.IncludeAfter {
		return InclusionPending, nil
	}
	return InclusionIncluded, nil
}

// PublishCalls reports how many times Publish was invoked.
func (c *MockDAClient) PublishCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publishCalls
}

var _ DAClient = (*MockDAClient)(nil)
