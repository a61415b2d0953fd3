package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all the routes for the RAG service. metrics may be
// nil when no Prometheus registry is wired.
func RegisterRoutes(router *gin.Engine, api *API, metrics http.Handler) {
	router.GET("/healthz", api.HealthHandler)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	// All routes will be under /api/v1/rag
	v1 := router.Group("/api/v1/rag")
	{
		v1.POST("/answer", api.AnswerHandler)
		v1.POST("/search", api.SearchHandler)
		v1.POST("/reconcile", api.ReconcileHandler)
		v1.GET("/quota", api.QuotaHandler)
	}

	docs := v1.Group("/documents")
	{
		docs.POST("", api.IngestHandler)
		docs.GET("", api.ListDocumentsHandler)
		docs.GET("/:id", api.GetDocumentHandler)
		docs.PATCH("/:id", api.PatchDocumentHandler)
		docs.DELETE("/:id", api.DeleteDocumentHandler)
	}

	jobs := v1.Group("/jobs")
	{
		jobs.GET("/:id", api.GetJobHandler)
		jobs.POST("/:id/cancel", api.CancelJobHandler)
	}
}

// NewRouter builds a gin engine with recovery and the RAG routes.
func NewRouter(api *API, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	RegisterRoutes(router, api, metrics)
	return router
}
