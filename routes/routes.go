package routes

import (
	"github.com/gin-gonic/gin"

	"permit-management-api/controllers"
	"permit-management-api/middleware"
	"permit-management-api/models"
)

func SetupRoutes(router *gin.Engine) {
	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			// Authentication
			public.POST("/login", controllers.Login)

			// Health check
			public.GET("/health", func(c *gin.Context) {
				c.JSON(200, gin.H{
					"status":  "ok",
					"message": "Permit Management API is running",
				})
			})

			// Work start via the permit's public link token (the token is
			// the credential); also accepts permit_id for console use.
			public.POST("/permits/start-work", controllers.StartWork)

			// Application server key for push subscription
			public.GET("/push/key", controllers.GetVAPIDPublicKey)
		}

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			// User profile
			protected.GET("/profile", controllers.GetProfile)
			protected.PUT("/change-password", controllers.ChangePassword)

			// Permits
			permits := protected.Group("/permits")
			{
				// Holders see their own permits, admin/manager all
				permits.GET("", controllers.GetPermits)
				permits.GET("/:id", controllers.GetPermit)

				// Only admin/manager can approve/reject
				permits.POST("/:id/approve",
					middleware.RequireRole(models.RoleAdmin, models.RoleManager),
					controllers.ApprovePermit)
				permits.POST("/:id/reject",
					middleware.RequireRole(models.RoleAdmin, models.RoleManager),
					controllers.RejectPermit)

				// Close allows the holder too; the service checks ownership
				permits.POST("/:id/close", controllers.ClosePermit)
			}

			// Push subscriptions
			push := protected.Group("/push")
			{
				push.POST("/subscribe", controllers.SubscribePush)
				push.POST("/unsubscribe", controllers.UnsubscribePush)
			}
		}
	}
}
