package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
)

type provisionRequest struct {
	Type     string          `json:"type" binding:"required"`
	TenantID int64           `json:"tenant_id" binding:"required"`
	OwnerRef string          `json:"owner_ref" binding:"required"`
	Spec     json.RawMessage `json:"spec" binding:"required"`
}

// RequestProvisioning accepts a provisioning request and returns the
// job id. The request is validated synchronously; the work itself runs
// on the worker pools.
func (r *Router) RequestProvisioning(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	jobID, err := r.orch.RequestProvisioning(c.Request.Context(), job.Type(req.Type), req.TenantID, req.OwnerRef, req.Spec)
	if err != nil {
		r.renderError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": strconv.FormatInt(jobID, 10),
		"status": string(job.StatusPending),
	})
}

// GetJob returns one job record, including its result or last error.
func (r *Router) GetJob(c *gin.Context) {
	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	j, err := r.orch.GetJob(c.Request.Context(), jobID)
	if err != nil {
		r.renderError(c, err)
		return
	}
	if j == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	resp := gin.H{
		"job_id":       strconv.FormatInt(j.ID, 10),
		"type":         string(j.Type),
		"tenant_id":    j.TenantID,
		"owner_ref":    j.OwnerRef,
		"status":       string(j.Status),
		"attempts":     j.Attempts,
		"max_attempts": j.MaxAttempts,
		"created_at":   j.CreatedAt,
	}
	if len(j.Result) > 0 {
		resp["result"] = json.RawMessage(j.Result)
	}
	if j.LastError != "" {
		resp["last_error"] = j.LastError
	}
	if j.CompletedAt != nil {
		resp["completed_at"] = j.CompletedAt
	}

	c.JSON(http.StatusOK, resp)
}

// GetAggregateStatus sums job states for one owner reference.
func (r *Router) GetAggregateStatus(c *gin.Context) {
	ownerRef := c.Param("owner_ref")
	if ownerRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_ref is required"})
		return
	}

	agg, err := r.orch.GetAggregateStatus(c.Request.Context(), ownerRef)
	if err != nil {
		r.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"owner_ref":     ownerRef,
		"pending":       agg.Pending,
		"active":        agg.Active,
		"completed":     agg.Completed,
		"failed":        agg.Failed,
		"all_completed": agg.AllCompleted(),
	})
}

func (r *Router) renderError(c *gin.Context, err error) {
	var pe *provisioning.Error
	if errors.As(err, &pe) {
		status := http.StatusInternalServerError
		switch pe.Class {
		case provisioning.ClassInvalidSpec:
			status = http.StatusBadRequest
		case provisioning.ClassAlreadyExists:
			status = http.StatusConflict
		case provisioning.ClassTransient, provisioning.ClassRolledBack:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error": pe.Message,
			"class": string(pe.Class),
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
