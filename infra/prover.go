package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tnqbao/gau-rollup-orchestrator/config"
)

// ProverClient runs proof generation for a batch. Proving is opaque to the
// orchestrator: it either yields a proof reference or fails.
type ProverClient interface {
	GenerateProof(ctx context.Context, internalID string, payload map[string]string) (string, error)
}

func InitProverClient(cfg *config.EnvConfig) ProverClient {
	switch cfg.Prover.Backend {
	case "http":
		return InitHTTPProverClient(cfg)
	case "mock":
		return NewMockProverClient()
	default:
		panic(fmt.Sprintf("unknown prover backend: %q", cfg.Prover.Backend))
	}
}

// HTTPProverClient calls an external prover service.
type HTTPProverClient struct {
	baseURL string
	client  *http.Client
}

type proverRequest struct {
	InternalID string            `json:"internal_id"`
	Payload    map[string]string `json:"payload"`
}

type proverResponse struct {
	ProofRef string `json:"proof_ref"`
}

func InitHTTPProverClient(cfg *config.EnvConfig) *HTTPProverClient {
	if cfg.Prover.ServiceURL == "" {
		panic("Prover service URL is not configured")
	}
	return &HTTPProverClient{
		baseURL: cfg.Prover.ServiceURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *HTTPProverClient) GenerateProof(ctx context.Context, internalID string, payload map[string]string) (string, error) {
	body, err := json.Marshal(proverRequest{InternalID: internalID, Payload: payload})
	if err != nil {
		return "", permanentErr("prover.generate", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/proofs", bytes.NewReader(body))
	if err != nil {
		return "", permanentErr("prover.generate", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", transientErr("prover.generate", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transientErr("prover.generate", err)
	}
	if resp.StatusCode >= 500 {
		return "", transientErr("prover.generate", fmt.Errorf("prover returned %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 400 {
		return "", permanentErr("prover.generate", fmt.Errorf("prover returned %d: %s", resp.StatusCode, respBody))
	}

	var proverResp proverResponse
	if err := json.Unmarshal(respBody, &proverResp); err != nil {
		return "", transientErr("prover.generate", fmt.Errorf("malformed prover response: %w", err))
	}
	if proverResp.ProofRef == "" {
		return "", permanentErr("prover.generate", fmt.Errorf("prover returned empty proof reference"))
	}
	return proverResp.ProofRef, nil
}

// MockProverClient returns deterministic proof references.
type MockProverClient struct {
	mu       sync.Mutex
	Err      error
	proveCnt int
}

func NewMockProverClient() *MockProverClient {
	return &MockProverClient{}
}

func (c *MockProverClient) GenerateProof(ctx context.Context, internalID string, payload map[string]string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proveCnt++
	if c.Err != nil {
		return "", c.Err
	}
	return fmt.Sprintf("proof://%s/%d", internalID, c.proveCnt), nil
}

var (
	_ ProverClient = (*HTTPProverClient)(nil)
	_ ProverClient = (*MockProverClient)(nil)
)
