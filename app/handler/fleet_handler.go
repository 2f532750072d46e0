package handler

import (
	"net/http"
	"strconv"

	"maro/pkg/logger"
	"maro/pkg/provision/k8s"

	"github.com/gin-gonic/gin"
)

// FleetHandler manages actor Deployments through the provisioner.
// Routes stay nil-safe: the router only mounts them when provisioning
// is enabled.
type FleetHandler struct {
	provisioner *k8s.Provisioner
}

// NewFleetHandler creates fleet handler
func NewFleetHandler(provisioner *k8s.Provisioner) *FleetHandler {
	return &FleetHandler{provisioner: provisioner}
}

// fleetRequest is the deployment body shared by Deploy and Preview.
type fleetRequest struct {
	Group    string            `json:"group"`
	RunID    string            `json:"run_id"`
	Replicas int32             `json:"replicas"`
	Env      map[string]string `json:"env"`
	CPU      string            `json:"cpu"`
	Memory   string            `json:"memory"`
}

func (r *fleetRequest) spec() k8s.FleetSpec {
	return k8s.FleetSpec{
		Group:    r.Group,
		RunID:    r.RunID,
		Replicas: r.Replicas,
		Env:      r.Env,
		CPU:      r.CPU,
		Memory:   r.Memory,
	}
}

// Deploy creates or updates a group's actor fleet
// @Summary Deploy actor fleet
// @Description Create or update the actor Deployment of a training group
// @Tags fleets
// @Accept json
// @Produce json
// @Param request body fleetRequest true "Fleet configuration"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/fleets [post]
func (h *FleetHandler) Deploy(c *gin.Context) {
	var req fleetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.provisioner.Deploy(c.Request.Context(), req.spec()); err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to deploy fleet of group %s: %v", req.Group, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deployment": k8s.DeploymentName(req.Group),
		"replicas":   req.Replicas,
	})
}

// Preview renders the manifest a Deploy would apply
// @Summary Preview fleet manifest
// @Description Render the actor Deployment as YAML without applying it
// @Tags fleets
// @Accept json
// @Produce plain
// @Param request body fleetRequest true "Fleet configuration"
// @Success 200 {string} string
// @Router /api/v1/fleets/preview [post]
func (h *FleetHandler) Preview(c *gin.Context) {
	var req fleetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	manifest, err := h.provisioner.PreviewYAML(req.spec())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.String(http.StatusOK, manifest)
}

// Scale resizes a group's actor fleet
// @Summary Scale actor fleet
// @Description Set the replica count of a group's actor Deployment
// @Tags fleets
// @Produce json
// @Param group path string true "Training group"
// @Param replicas query int true "Desired replica count"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/fleets/{group}/scale [put]
func (h *FleetHandler) Scale(c *gin.Context) {
	group := c.Param("group")

	replicas, err := strconv.Atoi(c.Query("replicas"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "replicas must be an integer"})
		return
	}

	if err := h.provisioner.Scale(c.Request.Context(), group, int32(replicas)); err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to scale fleet of group %s: %v", group, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"group":    group,
		"replicas": replicas,
	})
}

// Delete tears down a group's actor fleet
// @Summary Delete actor fleet
// @Description Delete the actor Deployment of a training group
// @Tags fleets
// @Param group path string true "Training group"
// @Success 200 {object} map[string]string
// @Router /api/v1/fleets/{group} [delete]
func (h *FleetHandler) Delete(c *gin.Context) {
	group := c.Param("group")

	if err := h.provisioner.Delete(c.Request.Context(), group); err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to delete fleet of group %s: %v", group, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "fleet deleted"})
}

// Pods lists a group's actor pods
// @Summary List actor pods
// @Description List the pods of a group's actor fleet with phase and IP
// @Tags fleets
// @Produce json
// @Param group path string true "Training group"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/fleets/{group}/pods [get]
func (h *FleetHandler) Pods(c *gin.Context) {
	group := c.Param("group")

	pods, err := h.provisioner.ListActorPods(c.Request.Context(), group)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list pods of group %s: %v", group, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"group": group,
		"pods":  pods,
		"total": len(pods),
	})
}
