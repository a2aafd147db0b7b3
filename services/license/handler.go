package license

import (
	"net/http"

	"smallbiznis-academy/pkg/accesscontrol"
	"smallbiznis-academy/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{service: svc}
}

func RegisterRoutes(engine *gin.Engine, e accesscontrol.Enforcer, h *Handler) {
	read := accesscontrol.Authorize(e, accesscontrol.ObjLicense, accesscontrol.ActRead)
	write := accesscontrol.Authorize(e, accesscontrol.ObjLicense, accesscontrol.ActWrite)

	g := engine.Group("/v1/licenses")
	g.POST("", write, h.Create)
	g.GET("/:company_id", read, h.Get)
	g.GET("/:company_id/events", read, h.Events)
	g.PATCH("/:company_id", write, h.Update)
	g.POST("/:company_id/activate", write, h.Activate)
	g.POST("/:company_id/suspend", write, h.Suspend)
	g.POST("/:company_id/resume", write, h.Resume)
	g.POST("/:company_id/cancel", write, h.Cancel)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	resp, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Get(c *gin.Context) {
	resp, err := h.service.Get(c.Request.Context(), c.Param("company_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Events(c *gin.Context) {
	events, err := h.service.Events(c.Request.Context(), c.Param("company_id"))
	if err != nil {
		_ = c.Error(errutil.Internal("failed to list license events", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	resp, err := h.service.Update(c.Request.Context(), c.Param("company_id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Activate(c *gin.Context) {
	resp, err := h.service.Activate(c.Request.Context(), c.Param("company_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type suspendRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) Suspend(c *gin.Context) {
	var req suspendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("reason is required", err))
		return
	}

	resp, err := h.service.Suspend(c.Request.Context(), c.Param("company_id"), req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type resumeRequest struct {
	ExtendDays *int `json:"extend_days"`
}

func (h *Handler) Resume(c *gin.Context) {
	var req resumeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errutil.BadRequest("invalid request body", err))
			return
		}
	}

	resp, err := h.service.Resume(c.Request.Context(), c.Param("company_id"), req.ExtendDays)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Cancel(c *gin.Context) {
	resp, err := h.service.Cancel(c.Request.Context(), c.Param("company_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
