package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ApprovePermit approves a pending permit (admin/manager only).
func ApprovePermit(c *gin.Context) {
	permitID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid permit id"})
		return
	}

	permit, err := newApprovalService().Approve(authContext(c), permitID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Permit approved successfully",
		"permit":  permit,
	})
}

// RejectPermit rejects a pending permit (admin/manager only).
func RejectPermit(c *gin.Context) {
	permitID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid permit id"})
		return
	}

	type RejectRequest struct {
		Reason string `json:"reason"`
	}
	var req RejectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}
	}

	permit, err := newApprovalService().Reject(authContext(c), permitID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Permit rejected",
		"permit":  permit,
	})
}

// ClosePermit closes an active permit (admin/manager or the holder).
func ClosePermit(c *gin.Context) {
	permitID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid permit id"})
		return
	}

	type CloseRequest struct {
		Reason string `json:"reason"`
	}
	var req CloseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}
	}

	permit, err := newApprovalService().Close(authContext(c), permitID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Permit closed successfully",
		"permit":  permit,
	})
}

// StartWork records the work-start timestamp on an active permit. The
// permit is identified either by its public link token or by id; no role
// restriction applies. Idempotent: repeated calls return the first
// timestamp.
func StartWork(c *gin.Context) {
	type StartWorkRequest struct {
		Link     string `json:"link"`
		PermitID int    `json:"permit_id"`
	}
	var req StartWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	svc := newApprovalService()
	var (
		startedAt time.Time
		err       error
	)
	switch {
	case req.Link != "":
		startedAt, err = svc.StartWorkByLink(req.Link)
	case req.PermitID > 0:
		startedAt, err = svc.StartWork(req.PermitID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "link or permit_id is required"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"work_started_at": startedAt,
	})
}
