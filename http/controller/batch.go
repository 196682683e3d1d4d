package controller

import (
	"encoding/base64"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-rollup-orchestrator/handler"
	"github.com/tnqbao/gau-rollup-orchestrator/http/controller/dto"
	"github.com/tnqbao/gau-rollup-orchestrator/infra/produce"
	"github.com/tnqbao/gau-rollup-orchestrator/utils"
)

// SubmitBatch accepts a sealed batch and publishes it to the orchestrator's
// trigger queue. The response is 202: admission into the pipeline happens
// asynchronously, and re-submitting the same batch is a no-op downstream.
func (ctrl *Controller) SubmitBatch(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SubmitBatchRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Batch] Failed to bind JSON: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}

	if _, err := base64.StdEncoding.DecodeString(req.StateDiff); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Batch] State diff of batch %s is not valid base64", req.InternalID)
		utils.JSON400(c, "state_diff must be base64 encoded")
		return
	}
	if req.BlockEnd < req.BlockStart {
		utils.JSON400(c, "block_end must not precede block_start")
		return
	}

	msg := produce.NewBatchMessage{
		InternalID: req.InternalID,
		Payload: map[string]string{
			handler.MetaStateDiff:  req.StateDiff,
			handler.MetaStateRoot:  req.StateRoot,
			handler.MetaBlockStart: strconv.FormatUint(req.BlockStart, 10),
			handler.MetaBlockEnd:   strconv.FormatUint(req.BlockEnd, 10),
		},
	}

	if err := ctrl.Infra.Produce.JobService.PublishNewBatch(ctx, msg); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Batch] Failed to publish batch %s", req.InternalID)
		utils.JSON500(c, "Failed to enqueue batch")
		return
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[Batch] Accepted batch %s (blocks %d-%d)", req.InternalID, req.BlockStart, req.BlockEnd)
	utils.JSON202(c, gin.H{
		"message":     "Batch accepted",
		"internal_id": req.InternalID,
	})
}

// GetBatchStatus returns every job recorded for a batch, one per pipeline
// stage reached so far.
func (ctrl *Controller) GetBatchStatus(c *gin.Context) {
	ctx := c.Request.Context()
	internalID := c.Param("internal_id")

	jobs, err := ctrl.Repository.JobRepo.FindByInternalID(ctx, internalID)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Batch] Failed to load jobs for batch %s", internalID)
		utils.JSON500(c, "Failed to load batch status")
		return
	}
	if len(jobs) == 0 {
		utils.JSON404(c, "Batch not found")
		return
	}

	utils.JSON200(c, gin.H{
		"internal_id": internalID,
		"jobs":        jobs,
	})
}
