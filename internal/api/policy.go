package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	recist "github.com/recist/recist/internal/model"
	"github.com/recist/recist/internal/service"
)

type PolicyHandler struct {
	svc *service.PolicyService
}

func NewPolicyHandler(svc *service.PolicyService) *PolicyHandler {
	return &PolicyHandler{svc: svc}
}

// ListPolicies godoc
// @Summary List self-healing policy overrides
// @Tags policies
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.PolicyListResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/policies [get]
func (h *PolicyHandler) ListPolicies(c *gin.Context) {
	policies, err := h.svc.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recist.PolicyListResponse{Status: "success", Data: policies})
}

// GetPolicy godoc
// @Summary Get a policy override by name
// @Tags policies
// @Produce json
// @Security BearerAuth
// @Param name path string true "Policy name"
// @Success 200 {object} model.PolicyResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /api/v1/policies/{name} [get]
func (h *PolicyHandler) GetPolicy(c *gin.Context) {
	name := c.Param("name")
	p, err := h.svc.Get(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "policy not found"})
		return
	}
	c.JSON(http.StatusOK, recist.PolicyResponse{Status: "success", Data: p})
}

// UpsertPolicy godoc
// @Summary Create or replace a policy override
// @Tags policies
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.SelfHealingPolicy true "Policy"
// @Success 200 {object} model.PolicyResponse
// @Failure 400,500 {object} model.ErrorResponse
// @Router /api/v1/policies [put]
func (h *PolicyHandler) UpsertPolicy(c *gin.Context) {
	var p recist.SelfHealingPolicy
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.Upsert(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recist.PolicyResponse{Status: "success", Data: &p})
}

// DeletePolicy godoc
// @Summary Delete a policy override
// @Tags policies
// @Produce json
// @Security BearerAuth
// @Param name path string true "Policy name"
// @Success 200 {object} model.StatusResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/policies/{name} [delete]
func (h *PolicyHandler) DeletePolicy(c *gin.Context) {
	name := c.Param("name")
	if err := h.svc.Delete(c.Request.Context(), name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recist.StatusResponse{Status: "success"})
}
