package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-rollup-orchestrator/config"
)

// HTTPSettlementClient talks to a settlement relay service that signs and
// broadcasts state-update transactions on the settlement chain. The relay keys
// submissions by the correlation id, so re-submitting after a timeout cannot
// produce two conflicting on-chain transactions.
type HTTPSettlementClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type settlementTxHandle struct {
	TxHash string `json:"tx_hash"`
}

type settlementSubmitRequest struct {
	Correlation string    `json:"correlation"`
	StateDiff   StateDiff `json:"state_diff"`
}

type settlementSubmitResponse struct {
	TxHash string `json:"tx_hash"`
}

type settlementStatusResponse struct {
	Status string `json:"status"`
}

func InitHTTPSettlementClient(cfg *config.EnvConfig) *HTTPSettlementClient {
	if cfg.Settlement.ServiceURL == "" {
		panic("Settlement service URL is not configured")
	}
	return &HTTPSettlementClient{
		baseURL: cfg.Settlement.ServiceURL,
		apiKey:  cfg.Settlement.APIKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPSettlementClient) SubmitStateUpdate(ctx context.Context, diff StateDiff, correlation uuid.UUID) (SubmissionHandle, error) {
	payload, err := json.Marshal(settlementSubmitRequest{
		Correlation: correlation.String(),
		StateDiff:   diff,
	})
	if err != nil {
		return "", permanentErr("settlement.submit", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/state-updates", bytes.NewReader(payload))
	if err != nil {
		return "", permanentErr("settlement.submit", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", correlation.String())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", transientErr("settlement.submit", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transientErr("settlement.submit", err)
	}
	if resp.StatusCode >= 500 {
		return "", transientErr("settlement.submit", fmt.Errorf("relay returned %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode >= 400 {
		return "", permanentErr("settlement.submit", fmt.Errorf("relay returned %d: %s", resp.StatusCode, body))
	}

	var submitResp settlementSubmitResponse
	if err := json.Unmarshal(body, &submitResp); err != nil {
		return "", transientErr("settlement.submit", fmt.Errorf("malformed relay response: %w", err))
	}
	if submitResp.TxHash == "" {
		return "", transientErr("settlement.submit", fmt.Errorf("relay returned no tx hash"))
	}

	encoded, err := json.Marshal(settlementTxHandle{TxHash: submitResp.TxHash})
	if err != nil {
		return "", permanentErr("settlement.submit", err)
	}
	return SubmissionHandle(encoded), nil
}

func (c *HTTPSettlementClient) CheckConfirmation(ctx context.Context, handle SubmissionHandle) (ConfirmationState, error) {
	var txHandle settlementTxHandle
	if err := json.Unmarshal([]byte(handle), &txHandle); err != nil {
		return ConfirmationReverted, permanentErr("settlement.check_confirmation", fmt.Errorf("malformed submission handle: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/state-updates/"+txHandle.TxHash, nil)
	if err != nil {
		return ConfirmationPending, permanentErr("settlement.check_confirmation", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ConfirmationPending, transientErr("settlement.check_confirmation", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ConfirmationPending, transientErr("settlement.check_confirmation", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		// The relay has not indexed the transaction yet.
		return ConfirmationPending, nil
	}
	if resp.StatusCode >= 400 {
		return ConfirmationPending, transientErr("settlement.check_confirmation", fmt.Errorf("relay returned %d: %s", resp.StatusCode, body))
	}

	var statusResp settlementStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return ConfirmationPending, transientErr("settlement.check_confirmation", fmt.Errorf("malformed relay response: %w", err))
	}

	switch statusResp.Status {
	case "confirmed", "finalized":
		return ConfirmationConfirmed, nil
	case "reverted", "rejected":
		return ConfirmationReverted, nil
	default:
		return ConfirmationPending, nil
	}
}

var _ SettlementClient = (*HTTPSettlementClient)(nil)
