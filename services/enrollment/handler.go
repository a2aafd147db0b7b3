package enrollment

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
	read := accesscontrol.Authorize(e, accesscontrol.ObjEnrollment, accesscontrol.ActRead)
	write := accesscontrol.Authorize(e, accesscontrol.ObjEnrollment, accesscontrol.ActWrite)

	sessions := engine.Group("/v1/sessions")
	sessions.POST("/:id/enrollments", write, h.Enroll)
	sessions.POST("/:id/enrollments/batch", write, h.EnrollBatch)

	g := engine.Group("/v1/enrollments")
	g.GET("/:id", read, h.Get)
	g.POST("/:id/cancel", write, h.Cancel)
}

// statusOf picks the response code of a typed result. A rejection is reported with the
// status of its reason and the result as body.
func statusOf(r *Result) int {
	switch r.Status {
	case Confirmed:
		return http.StatusCreated
	case Waitlisted:
		return http.StatusAccepted
	}
	if code := r.Reason.Status(); code != errutil.StatusUnknown {
		return code.HTTPStatus()
	}
	return http.StatusUnprocessableEntity
}

func (h *Handler) Enroll(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	res, err := h.service.Enroll(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(statusOf(res), res)
}

func (h *Handler) EnrollBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	res, err := h.service.EnrollBatch(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Get(c *gin.Context) {
	resp, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Cancel(c *gin.Context) {
	resp, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
