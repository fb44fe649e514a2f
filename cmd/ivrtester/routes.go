package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ivr-tester/internal/httpapi"
)

// registerRoutes wires HTTP routes to handlers. Keep this file free of
// business logic. callAuth may be nil, leaving the manual trigger open.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, callAuth gin.HandlerFunc, reg *prometheus.Registry) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	api := r.Group("/api")

	// Provider webhooks are unauthenticated.
	api.POST("/callbacks", h.Callbacks)
	api.POST("/callbacks/twilio", h.TwilioCallback)

	calls := api.Group("/call")
	if callAuth != nil {
		calls.Use(callAuth)
	}
	calls.POST("", h.StartCall)
	calls.GET("/status", h.CallStatus)
	calls.GET("/transcript", h.Transcript)
}
