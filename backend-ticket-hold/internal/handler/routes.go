package handler

import "github.com/gin-gonic/gin"

// Router groups the handlers and the middleware guarding them
type Router struct {
	Health      *HealthHandler
	Holds       *HoldHandler
	Links       *LinkHandler
	Redemptions *RedemptionHandler

	// Admin guards the administrative routes, Buyer the buyer-facing ones
	Admin       gin.HandlerFunc
	Buyer       gin.HandlerFunc
	Idempotency gin.HandlerFunc
}

func orPass(h gin.HandlerFunc) gin.HandlerFunc {
	if h == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return h
}

// Register mounts every route on engine
func (r *Router) Register(engine *gin.Engine) {
	if r.Health != nil {
		engine.GET("/health", r.Health.Health)
		engine.GET("/ready", r.Health.Ready)
	}

	admin := orPass(r.Admin)
	buyer := orPass(r.Buyer)
	idem := orPass(r.Idempotency)

	v1 := engine.Group("/api/v1")
	{
		holds := v1.Group("/holds", admin)
		holds.POST("", idem, r.Holds.Create)
		holds.GET("", r.Holds.List)
		holds.GET("/:id", r.Holds.Get)
		holds.PATCH("/:id", r.Holds.Update)
		holds.POST("/:id/release", r.Holds.Release)
		holds.GET("/:id/availability", r.Holds.Availability)
		holds.GET("/:id/links", r.Holds.Links)

		links := v1.Group("/links")
		links.POST("", admin, r.Links.Create)
		links.GET("/:id", admin, r.Links.Get)
		links.PATCH("/:id", admin, r.Links.Update)
		links.DELETE("/:id", admin, r.Links.Revoke)
		links.GET("/:id/purchases", admin, r.Links.Purchases)

		// buyer-facing; :id is the link code
		links.GET("/:id/view", buyer, r.Links.View)
		links.POST("/:id/redeem", buyer, idem, r.Redemptions.Redeem)
	}
}
