package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/budget-proxy/internal/core/domain"
	"github.com/duynhne/budget-proxy/internal/logger"
	logicv1 "github.com/duynhne/budget-proxy/internal/logic/v1"
	"github.com/duynhne/budget-proxy/middleware"
)

// Handler groups HTTP handlers for API v1.
// Dependencies are injected via the constructor; no global state.
type Handler struct {
	auth        *logicv1.AuthService
	collections []collection
}

type collection struct {
	path    string
	service *logicv1.EntityService
}

// Services bundles the entity services exposed over HTTP.
type Services struct {
	Accounts   *logicv1.EntityService
	Records    *logicv1.EntityService
	Categories *logicv1.EntityService
	Labels     *logicv1.EntityService
}

// NewHandler creates a new Handler.
func NewHandler(auth *logicv1.AuthService, services Services) *Handler {
	return &Handler{
		auth: auth,
		collections: []collection{
			{path: "/accounts", service: services.Accounts},
			{path: "/records", service: services.Records},
			{path: "/categories", service: services.Categories},
			{path: "/labels", service: services.Labels},
		},
	}
}

// RegisterRoutes registers all API v1 routes on the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/login", h.Login)

	for _, col := range h.collections {
		g := rg.Group(col.path)
		g.GET("", h.list(col.service))
		g.GET("/:id", h.get(col.service))
		g.POST("", h.create(col.service))
		g.PUT("/:id", h.update(col.service))
		g.DELETE("/:id", h.remove(col.service))
	}
}

func startRequestSpan(c *gin.Context) (context.Context, trace.Span) {
	return middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
}

// fail logs err and writes the mapped error response.
func fail(c *gin.Context, span trace.Span, err error, msg string) {
	span.RecordError(err)
	_ = c.Error(err)

	status, message, details := mapError(err)
	log := logger.FromContext(c.Request.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
	} else {
		log.Warn().Err(err).Msg(msg)
	}
	respondError(c, status, message, details)
}

// Login handles an explicit upstream login and forwards its cookies.
func (h *Handler) Login(c *gin.Context) {
	ctx, span := startRequestSpan(c)
	defer span.End()

	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		span.RecordError(err)
		respondError(c, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	span.SetAttributes(attribute.Bool("request.valid", true))

	cookies, err := h.auth.Login(ctx, req)
	if err != nil {
		fail(c, span, err, "Login failed")
		return
	}

	names := make([]string, 0, len(cookies))
	for _, cookie := range cookies {
		http.SetCookie(c.Writer, cookie)
		names = append(names, cookie.Name)
	}
	logger.FromContext(ctx).Info().Strs("cookies", names).Msg("Login successful")
	respond(c, http.StatusOK, "Login successful", gin.H{"cookies": names})
}

func (h *Handler) list(svc *logicv1.EntityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startRequestSpan(c)
		defer span.End()

		var filter domain.ListFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			respondError(c, http.StatusBadRequest, "Invalid query", err.Error())
			return
		}

		docs, err := svc.List(ctx, filter)
		if err != nil {
			fail(c, span, err, "List failed")
			return
		}
		if docs == nil {
			docs = []domain.Document{}
		}
		respond(c, http.StatusOK, "", docs)
	}
}

func (h *Handler) get(svc *logicv1.EntityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startRequestSpan(c)
		defer span.End()

		doc, err := svc.GetByID(ctx, c.Param("id"))
		if err != nil {
			fail(c, span, err, "Get failed")
			return
		}
		if doc == nil {
			notFound(c, svc)
			return
		}
		respond(c, http.StatusOK, "", doc)
	}
}

func (h *Handler) create(svc *logicv1.EntityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startRequestSpan(c)
		defer span.End()

		var fields map[string]any
		if err := c.ShouldBindJSON(&fields); err != nil {
			span.RecordError(err)
			respondError(c, http.StatusBadRequest, "Invalid request", err.Error())
			return
		}

		doc, err := svc.Create(ctx, fields)
		if err != nil {
			fail(c, span, err, "Create failed")
			return
		}
		respond(c, http.StatusCreated, string(svc.Kind())+" created", doc)
	}
}

func (h *Handler) update(svc *logicv1.EntityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startRequestSpan(c)
		defer span.End()

		var patch map[string]any
		if err := c.ShouldBindJSON(&patch); err != nil {
			span.RecordError(err)
			respondError(c, http.StatusBadRequest, "Invalid request", err.Error())
			return
		}

		doc, err := svc.Update(ctx, c.Param("id"), patch)
		if err != nil {
			fail(c, span, err, "Update failed")
			return
		}
		if doc == nil {
			notFound(c, svc)
			return
		}
		respond(c, http.StatusOK, string(svc.Kind())+" updated", doc)
	}
}

func (h *Handler) remove(svc *logicv1.EntityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startRequestSpan(c)
		defer span.End()

		result, err := svc.Delete(ctx, c.Param("id"))
		if err != nil {
			fail(c, span, err, "Delete failed")
			return
		}
		if result == nil {
			notFound(c, svc)
			return
		}
		respond(c, http.StatusOK, string(svc.Kind())+" deleted", result)
	}
}

func notFound(c *gin.Context, svc *logicv1.EntityService) {
	respondError(c, http.StatusNotFound, string(svc.Kind())+" not found", gin.H{"id": c.Param("id")})
}
