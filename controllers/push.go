package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"permit-management-api/config"
	"permit-management-api/services"
)

// SubscribePush registers or refreshes a push subscription for the current
// user. Fully idempotent: resubscribing with rotated keys updates the
// existing row.
func SubscribePush(c *gin.Context) {
	type SubscribeRequest struct {
		Endpoint string `json:"endpoint" binding:"required"`
		Keys     struct {
			P256dh string `json:"p256dh" binding:"required"`
			Auth   string `json:"auth" binding:"required"`
		} `json:"keys" binding:"required"`
	}
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": err.Error()})
		return
	}

	var userID *int
	if v, ok := c.Get("userID"); ok {
		if id, isInt := v.(int); isInt {
			userID = &id
		}
	}

	sub, action, err := services.NewPushRegistryService(nil, nil).
		Upsert(req.Endpoint, req.Keys.P256dh, req.Keys.Auth, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"id":     sub.SubscriptionID,
		"action": action,
	})
}

// UnsubscribePush removes a push subscription. Accepts JSON or
// form-encoded bodies, and the browser-shaped "subscription.endpoint"
// alias. Deleting an absent endpoint is success with deleted=0.
func UnsubscribePush(c *gin.Context) {
	endpoint := extractEndpoint(c)
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": "endpoint is required"})
		return
	}

	deleted, err := services.NewPushRegistryService(nil, nil).Delete(endpoint)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"deleted": deleted,
	})
}

func extractEndpoint(c *gin.Context) string {
	contentType := c.GetHeader("Content-Type")
	if strings.Contains(contentType, "application/json") {
		type UnsubscribeRequest struct {
			Endpoint     string `json:"endpoint"`
			Subscription struct {
				Endpoint string `json:"endpoint"`
			} `json:"subscription"`
		}
		var req UnsubscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return ""
		}
		if req.Endpoint != "" {
			return req.Endpoint
		}
		return req.Subscription.Endpoint
	}

	if endpoint := c.PostForm("endpoint"); endpoint != "" {
		return endpoint
	}
	return c.PostForm("subscription.endpoint")
}

// GetVAPIDPublicKey serves the application server key clients subscribe
// with.
func GetVAPIDPublicKey(c *gin.Context) {
	key := config.VAPIDPublicKey()
	if key == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "message": "Push not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "key": key})
}
