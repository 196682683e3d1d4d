package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-rollup-orchestrator/http/controller"
	middlewares "github.com/tnqbao/gau-rollup-orchestrator/http/middleware"
)

func SetupRouter(ctrl *controller.Controller) *gin.Engine {
	r := gin.Default()
	middles, err := middlewares.NewMiddlewares(ctrl)
	if err != nil {
		panic(err)
	}

	r.Use(middles.CORSMiddleware)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiRoutes := r.Group("/api/v1/rollup")
	{
		apiRoutes.Use(middles.AuthMiddleware)

		batchRoutes := apiRoutes.Group("/batches")
		{
			batchRoutes.POST("/", ctrl.SubmitBatch)
			batchRoutes.GET("/:internal_id", ctrl.GetBatchStatus)
		}

		jobRoutes := apiRoutes.Group("/jobs")
		{
			jobRoutes.GET("/", ctrl.ListJobs)
			jobRoutes.GET("/:id", ctrl.GetJobByID)
		}
	}
	return r
}
