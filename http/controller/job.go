package controller

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/utils"
)

const jobCacheTTL = 15 * time.Second

// GetJobByID returns a single job. Reads go through a short-lived Redis cache;
// the TTL is short enough that a stale status resolves itself within one
// control-loop tick.
func (ctrl *Controller) GetJobByID(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.JSON400(c, "Invalid job id")
		return
	}

	cacheKey := "job:" + jobID.String()
	var cached entity.Job
	if err := ctrl.Infra.Redis.Get(ctx, cacheKey, &cached); err == nil {
		utils.JSON200(c, cached)
		return
	}

	job, err := ctrl.Repository.JobRepo.FindByID(ctx, jobID)
	if err != nil {
		utils.JSON404(c, "Job not found")
		return
	}

	if err := ctrl.Infra.Redis.Set(ctx, cacheKey, job, jobCacheTTL); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Job] Failed to cache job %s: %v", jobID, err)
	}

	utils.JSON200(c, job)
}

// ListJobs returns jobs filtered by the optional status and type query
// parameters.
func (ctrl *Controller) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()

	status := entity.JobStatus(c.Query("status"))
	jobType := entity.JobType(c.Query("type"))

	jobs, err := ctrl.Repository.JobRepo.List(ctx, status, jobType, ctrl.Config.EnvConfig.Orchestrator.ScanLimit)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to list jobs")
		utils.JSON500(c, "Failed to list jobs")
		return
	}

	utils.JSON200(c, gin.H{
		"count": len(jobs),
		"jobs":  jobs,
	})
}
