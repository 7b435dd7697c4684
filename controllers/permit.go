package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"permit-management-api/config"
	"permit-management-api/models"
	"permit-management-api/services"
)

// GetPermits returns the caller's permits; admins and managers see all.
func GetPermits(c *gin.Context) {
	actor := authContext(c)

	var permits []models.Permit
	query := config.DB.Preload("Holder")

	if !actor.IsApprover() {
		query = query.Where("holder_id = ?", actor.UserID)
	}

	// Filters from query params
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if template := c.Query("template_id"); template != "" {
		query = query.Where("template_id = ?", template)
	}

	if err := query.Order("permit_id DESC").Find(&permits).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to fetch permits"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"permits": permits,
		"total":   len(permits),
	})
}

// GetPermit returns a single permit with its event trail. Holders can only
// read their own permits.
func GetPermit(c *gin.Context) {
	permitID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid permit id"})
		return
	}
	actor := authContext(c)

	var permit models.Permit
	query := config.DB.Preload("Holder").Where("permit_id = ?", permitID)
	if !actor.IsApprover() {
		query = query.Where("holder_id = ?", actor.UserID)
	}
	if err := query.First(&permit).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Permit not found"})
		return
	}

	events, err := services.NewLifecycleService(nil, nil).Events(permit.PermitID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"permit":  permit,
		"events":  events,
	})
}
