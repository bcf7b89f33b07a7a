package main

import (
	"github.com/gin-gonic/gin"

	"callbridge/internal/httpapi"
	"callbridge/internal/rbac"
	"callbridge/internal/signaling"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, gateway *signaling.Gateway, authMW gin.HandlerFunc, socketPath string) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: Login is a placeholder credential flow; see Handlers.Login.
	authGroup := r.Group("/v1/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	// Realtime socket. Token auth happens inside the gateway before upgrade,
	// since websocket clients cannot always set headers.
	r.GET(socketPath, gateway.Handle)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// CALLS routes
		callGroup := v1.Group("/calls")
		callGroup.Use(rbac.RequireOrg())
		{
			callGroup.POST("", h.InitiateCall)
			callGroup.GET("/:id", h.GetCall)
			callGroup.POST("/:id/accept", h.AcceptCall)
			callGroup.POST("/:id/decline", h.DeclineCall)
			callGroup.POST("/:id/cancel", h.CancelCall)
			callGroup.POST("/:id/end", h.EndCall)
		}

		// STAFF routes
		staff := v1.Group("/staff")
		staff.Use(rbac.RequireOrg())
		staff.Use(rbac.RequireAnyRole(rbac.RoleStaff))
		{
			staff.PUT("/availability", h.SetAvailability)
			staff.GET("/available", h.ListAvailable)
		}

		// REPORTS routes
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireOrg())
		reports.Use(rbac.RequireAnyRole(rbac.RoleStaff, rbac.RoleAdmin))
		{
			reports.GET("/calls", h.CallsReport)
		}
	}
}
