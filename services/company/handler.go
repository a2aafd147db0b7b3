package company

import (
	"net/http"

	"smallbiznis-academy/pkg/accesscontrol"
	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/services/person"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{service: svc}
}

func RegisterRoutes(engine *gin.Engine, e accesscontrol.Enforcer, h *Handler) {
	read := accesscontrol.Authorize(e, accesscontrol.ObjCompany, accesscontrol.ActRead)
	write := accesscontrol.Authorize(e, accesscontrol.ObjCompany, accesscontrol.ActWrite)
	admin := accesscontrol.Authorize(e, accesscontrol.ObjLicense, accesscontrol.ActWrite)

	g := engine.Group("/v1/companies")
	g.POST("", admin, h.Create)
	g.GET("/:id", read, h.Get)
	g.GET("/:id/usage", read, h.Usage)
	g.POST("/:id/users", write, h.AddUser)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	resp, err := h.service.CreateCompany(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Get(c *gin.Context) {
	resp, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Usage(c *gin.Context) {
	resp, err := h.service.Usage(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) AddUser(c *gin.Context) {
	var req person.Draft
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	resp, err := h.service.AddUser(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}
