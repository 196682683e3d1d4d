package dto

// SubmitBatchRequestDTO announces a sealed rollup batch to the orchestrator.
// StateDiff is the base64-encoded diff blob destined for the DA layer.
type SubmitBatchRequestDTO struct {
	InternalID string `json:"internal_id" binding:"required"`
	StateDiff  string `json:"state_diff" binding:"required"`
	StateRoot  string `json:"state_root" binding:"required"`
	BlockStart uint64 `json:"block_start"`
	BlockEnd   uint64 `json:"block_end"`
}
