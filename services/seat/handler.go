package seat

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
	read := accesscontrol.Authorize(e, accesscontrol.ObjSession, accesscontrol.ActRead)
	write := accesscontrol.Authorize(e, accesscontrol.ObjSession, accesscontrol.ActWrite)
	roster := accesscontrol.Authorize(e, accesscontrol.ObjEnrollment, accesscontrol.ActRead)

	g := engine.Group("/v1/sessions")
	g.POST("", write, h.Create)
	g.POST("/repeat", write, h.Repeat)
	g.GET("/:id", read, h.Get)
	g.POST("/:id/publish", write, h.Publish)
	g.POST("/:id/cancel", write, h.Cancel)
	g.POST("/:id/resize", write, h.Resize)
	g.GET("/:id/enrollments", roster, h.Roster)
	g.GET("/:id/waitlist", roster, h.Waitlist)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	resp, err := h.service.CreateSession(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Repeat(c *gin.Context) {
	var req RepeatSessionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	sessions, err := h.service.RepeatSessions(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessions": sessions})
}

func (h *Handler) Get(c *gin.Context) {
	resp, err := h.service.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Publish(c *gin.Context) {
	resp, err := h.service.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Cancel(c *gin.Context) {
	session, cancelled, err := h.service.CancelSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "enrollments_cancelled": cancelled})
}

type resizeRequest struct {
	Capacity int `json:"capacity" binding:"required"`
}

func (h *Handler) Resize(c *gin.Context) {
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("capacity is required", err))
		return
	}

	session, promoted, err := h.service.Resize(c.Request.Context(), c.Param("id"), req.Capacity)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "promoted": promoted})
}

type rosterQuery struct {
	Status string `form:"status"`
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=10"`
}

func (h *Handler) Roster(c *gin.Context) {
	var q rosterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	req := RosterRequest{Status: EnrollmentStatus(q.Status)}
	req.Cursor, req.Limit = q.Cursor, q.Limit

	rows, info, err := h.service.Roster(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollments": rows, "page_info": info})
}

func (h *Handler) Waitlist(c *gin.Context) {
	rows, err := h.service.Waitlist(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"waitlist": rows})
}
