package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes wires the core endpoints. The deploy endpoint additionally
// accepts a signed deploy-trigger token; delete, list and build routes
// require a session actor.
func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// Webhook deliveries authenticate via HMAC signature, not a session.
	v1.POST("/webhooks/push", h.Webhook)

	session := RequireActor(h.cfg.JWTSecret, h.cfg.DeployTokenSecret, false)
	deployAuth := RequireActor(h.cfg.JWTSecret, h.cfg.DeployTokenSecret, true)

	v1.POST("/deploy/:student_code", deployAuth, h.Deploy)
	v1.DELETE("/deploy/:student_code", session, h.Delete)
	v1.GET("/deploy/:student_code/status", session, h.Status)
	v1.GET("/status", session, h.StatusAll)

	v1.POST("/builds/trigger", session, h.TriggerBuild)
	v1.GET("/builds/:id", session, h.GetBuild)
	v1.GET("/builds/:id/logs", session, h.GetBuildLogs)
	v1.POST("/builds/:id/deploy", session, h.DeployBuild)

	v1.POST("/students/:id/deploy-key", session, h.RotateDeployKey)
}
