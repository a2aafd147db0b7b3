package sweeper

import (
	"net/http"
	"strconv"

	"smallbiznis-academy/pkg/accesscontrol"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{service: svc}
}

func RegisterRoutes(engine *gin.Engine, e accesscontrol.Enforcer, h *Handler) {
	admin := accesscontrol.Authorize(e, accesscontrol.ObjSweep, accesscontrol.ActWrite)

	g := engine.Group("/v1/sweeps")
	g.POST("", admin, h.Trigger)
	g.GET("", admin, h.Jobs)
}

func (h *Handler) Trigger(c *gin.Context) {
	info, err := h.service.Enqueue(c.Request.Context(), TriggerManual, 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "queue": info.Queue})
}

func (h *Handler) Jobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	jobs, err := h.service.Jobs(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}
