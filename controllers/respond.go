package controllers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"permit-management-api/config"
	"permit-management-api/services"
)

// authContext builds the caller identity from the values the auth
// middleware stored on the request.
func authContext(c *gin.Context) services.AuthContext {
	ctx := services.AuthContext{}
	if v, ok := c.Get("userID"); ok {
		if id, ok := v.(int); ok {
			ctx.UserID = id
		}
	}
	if v, ok := c.Get("email"); ok {
		if email, ok := v.(string); ok {
			ctx.Email = email
		}
	}
	if v, ok := c.Get("role"); ok {
		if role, ok := v.(string); ok {
			ctx.Role = role
		}
	}
	return ctx
}

// respondError maps the service error taxonomy onto HTTP statuses.
// Unexpected errors are logged with detail and answered with a generic
// message.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Permit not found"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Insufficient permissions"})
	case errors.Is(err, services.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case services.IsValidation(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": err.Error()})
	default:
		log.Printf("internal error on %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
	}
}

// newApprovalService wires the workflow with its default collaborators.
// Built per request; all state lives in the database.
func newApprovalService() *services.ApprovalService {
	lifecycle := services.NewLifecycleService(nil, nil)
	registry := services.NewPushRegistryService(nil, nil)
	notifier := services.NewNotificationService(nil, nil, registry, services.WebPushTransport{})
	return services.NewApprovalService(lifecycle, notifier, services.DBActivityLogger{DB: config.DB})
}
