package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gocomet/ride-dispatch/internal/api/handlers"
	"github.com/gocomet/ride-dispatch/internal/observability"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, nrApp *newrelic.Application) {
	// Add New Relic middleware if enabled
	if nrApp != nil {
		r.Use(nrgin.Middleware(nrApp))
	}
	r.Use(observability.GinMiddleware())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// WebSocket connection
		v1.GET("/ws", h.HandleWebSocket)

		// Ride endpoints
		rides := v1.Group("/rides")
		{
			rides.POST("", h.CreateRide)
			rides.GET("/:id", h.GetRide)
			rides.POST("/:id/cancel", h.CancelRide)
			rides.POST("/:id/status", h.UpdateRideStatus)
			rides.POST("/:id/location", h.UpdateRideLocation)
			rides.POST("/:id/complete", h.CompleteRide)
		}

		// Offer endpoints
		offers := v1.Group("/offers")
		{
			offers.POST("/:id/accept", h.AcceptOffer)
			offers.POST("/:id/decline", h.DeclineOffer)
		}

		// Driver endpoints
		drivers := v1.Group("/drivers")
		{
			drivers.POST("/:id/online", h.GoOnline)
			drivers.POST("/:id/offline", h.GoOffline)
			drivers.POST("/:id/location", h.UpdateDriverLocation)
			drivers.GET("/:id/offers", h.GetDriverOffers)
			drivers.GET("/:id/current-ride", h.GetDriverCurrentRide)
		}

		// Rider endpoints
		v1.GET("/riders/:id/current-ride", h.GetRiderCurrentRide)

		// Fare quotes
		v1.POST("/fares/estimate", h.EstimateFare)
	}
}
