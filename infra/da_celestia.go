package infra

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-rollup-orchestrator/config"
)

// CelestiaDAClient publishes blobs to a Celestia light node over its JSON-RPC
// HTTP API. The submission handle is a JSON blob key carrying everything needed
// to re-fetch the blob later.
type CelestiaDAClient struct {
	rpcURL    string
	authToken string
	namespace string
	client    *http.Client
}

// celestiaBlobKey is the backend-specific wire format of the handle. It never
// leaves this file except as an opaque SubmissionHandle.
type celestiaBlobKey struct {
	Namespace  string `json:"namespace"`
	Height     int64  `json:"height"`
	Commitment string `json:"commitment"`
}

type celestiaRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type celestiaRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type celestiaRPCResponse struct {
	Result json.RawMessage   `json:"result"`
	Error  *celestiaRPCError `json:"error"`
}

type celestiaBlob struct {
	Namespace    string `json:"namespace"`
	Data         string `json:"data"`
	ShareVersion int    `json:"share_version"`
}

func InitCelestiaDAClient(cfg *config.EnvConfig) *CelestiaDAClient {
	if cfg.DA.CelestiaRPCURL == "" {
		panic("Celestia RPC URL is not configured")
	}
	return &CelestiaDAClient{
		rpcURL:    cfg.DA.CelestiaRPCURL,
		authToken: cfg.DA.CelestiaAuthToken,
		namespace: cfg.DA.CelestiaNamespace,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *CelestiaDAClient) Publish(ctx context.Context, data []byte, correlation uuid.UUID) (SubmissionHandle, error) {
	blob := celestiaBlob{
		Namespace:    c.namespace,
		Data:         base64.StdEncoding.EncodeToString(data),
		ShareVersion: 0,
	}

	result, err := c.call(ctx, "blob.Submit", []interface{}{[]celestiaBlob{blob}, map[string]interface{}{}})
	if err != nil {
		return "", err
	}

	var height int64
	if err := json.Unmarshal(result, &height); err != nil {
		return "", permanentErr("da.publish", fmt.Errorf("unexpected blob.Submit result: %w", err))
	}

	commitment := sha256.Sum256(data)
	key := celestiaBlobKey{
		Namespace:  c.namespace,
		Height:     height,
		Commitment: hex.EncodeToString(commitment[:]),
	}
	encoded, err := json.Marshal(key)
	if err != nil {
		return "", permanentErr("da.publish", err)
	}
	return SubmissionHandle(encoded), nil
}

func (c *CelestiaDAClient) CheckInclusion(ctx context.Context, handle SubmissionHandle) (InclusionState, error) {
	var key celestiaBlobKey
	if err := json.Unmarshal([]byte(handle), &key); err != nil {
		return InclusionRejected, permanentErr("da.check_inclusion", fmt.Errorf("malformed submission handle: %w", err))
	}

	result, err := c.call(ctx, "blob.Get", []interface{}{key.Height, key.Namespace, key.Commitment})
	if err != nil {
		var be *BackendError
		// A missing blob at the recorded height means the node has not seen it
		// yet; report pending so the caller keeps polling.
		if errors.As(err, &be) && !be.Transient && strings.Contains(be.Err.Error(), "blob: not found") {
			return InclusionPending, nil
		}
		return InclusionPending, err
	}
	if len(result) == 0 || string(result) == "null" {
		return InclusionPending, nil
	}
	return InclusionIncluded, nil
}

func (c *CelestiaDAClient) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	op := "da." + method
	payload, err := json.Marshal(celestiaRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, permanentErr(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return nil, permanentErr(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transientErr(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientErr(op, err)
	}
	if resp.StatusCode >= 500 {
		return nil, transientErr(op, fmt.Errorf("node returned %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode >= 400 {
		return nil, permanentErr(op, fmt.Errorf("node returned %d: %s", resp.StatusCode, body))
	}

	var rpcResp celestiaRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, transientErr(op, fmt.Errorf("malformed RPC response: %w", err))
	}
	if rpcResp.Error != nil {
		return nil, permanentErr(op, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message))
	}
	return rpcResp.Result, nil
}

var _ DAClient = (*CelestiaDAClient)(nil)
