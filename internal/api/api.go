// Package api provides the thin HTTP ingress that translates REST requests
// into Workflow Coordinator calls (spec.md §6 EXTERNAL INTERFACES, "HTTP
// ingress"). It owns no domain logic of its own: every handler validates its
// input, calls into internal/workflow or internal/repository, and maps the
// resulting apperrors.AppError onto an HTTP status.
//
// Grounded on the teacher's api/internal/api.Handler: one struct holding the
// dependencies a request might need, one method per route, gin.H JSON error
// bodies of the shape {"error": ..., "message": ...}.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/logging"
	"github.com/iotronic/conductor/internal/onboarding"
	"github.com/iotronic/conductor/internal/repository"
	"github.com/iotronic/conductor/internal/workflow"
)

// Handler holds every dependency the ingress routes need.
type Handler struct {
	repo       *repository.Repository
	workflow   *workflow.Coordinator
	onboarding *onboarding.Service
	validate   *validator.Validate
}

// New constructs a Handler.
func New(repo *repository.Repository, coordinator *workflow.Coordinator, onboardingSvc *onboarding.Service) *Handler {
	return &Handler{repo: repo, workflow: coordinator, onboarding: onboardingSvc, validate: validator.New()}
}

// Routes registers every ingress route onto engine.
func (h *Handler) Routes(engine *gin.Engine) {
	v1 := engine.Group("/v1")

	boards := v1.Group("/boards")
	boards.GET("", h.ListBoards)
	boards.GET("/:uuid", h.GetBoard)
	boards.POST("", h.CreateBoard)
	boards.DELETE("/:uuid", h.DestroyBoard)
	boards.POST("/:uuid/action", h.ActionBoard)

	plugins := v1.Group("/plugins")
	plugins.POST("", h.CreatePlugin)
	plugins.DELETE("/:uuid", h.DestroyPlugin)
	boards.POST("/:uuid/plugins/:plugin_uuid/inject", h.InjectPlugin)
	boards.DELETE("/:uuid/plugins/:plugin_uuid", h.RemovePlugin)

	services := v1.Group("/services")
	services.POST("", h.CreateService)
	services.DELETE("/:uuid", h.DestroyService)
	boards.POST("/:uuid/services/:service_uuid/action", h.ActionService)

	webservices := v1.Group("/webservices")
	webservices.POST("", h.CreateWebservice)
	boards.POST("/:uuid/webservice/enable", h.EnableWebservice)
	boards.POST("/:uuid/webservice/disable", h.DisableWebservice)

	boards.POST("/:uuid/ports", h.CreatePort)
	v1.DELETE("/ports/:uuid", h.RemovePort)

	v1.POST("/registration", h.Register)

	engine.GET("/healthz", h.Healthz)
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail maps err onto an HTTP response, using apperrors.AppError's Code when
// present to pick a status the way the teacher's handlers switch on a typed
// application error rather than string-matching err.Error().
func fail(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.CodeBoardNotFound, apperrors.CodePluginNotFound, apperrors.CodeServiceNotFound,
			apperrors.CodeWebserviceNotFound, apperrors.CodePortNotFound, apperrors.CodeFleetNotFound,
			apperrors.CodeRequestNotFound, apperrors.CodeResultNotFound, apperrors.CodeEnabledWebserviceNotFound:
			status = http.StatusNotFound
		case apperrors.CodeAlreadyExists, apperrors.CodeDuplicateName, apperrors.CodeDuplicateCode,
			apperrors.CodeBoardNameAlreadyExists, apperrors.CodeServiceAlreadyExposed,
			apperrors.CodeEnabledWebserviceAlreadyExists, apperrors.CodeDnsWebserviceAlreadyExists:
			status = http.StatusConflict
		case apperrors.CodeInvalidIdentity, apperrors.CodeInvalidServiceAction, apperrors.CodeInvalidBoardAction,
			apperrors.CodeInvalidPluginAction:
			status = http.StatusBadRequest
		case apperrors.CodeBoardNotConnected, apperrors.CodeBoardInvalidStatus:
			status = http.StatusConflict
		case apperrors.CodeNoAgents, apperrors.CodeNoRegistrationAgent, apperrors.CodeNotEnoughPortForService:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": appErr.Code, "message": appErr.Message})
		return
	}
	logging.Log.Error().Err(err).Msg("unhandled ingress error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}

func (h *Handler) ListBoards(c *gin.Context) {
	params := repository.ListParams{Marker: c.Query("marker")}
	boards, err := h.repo.Boards.List(params)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boards": boards})
}

func (h *Handler) GetBoard(c *gin.Context) {
	board, err := h.repo.Boards.GetByUUID(c.Param("uuid"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

type createBoardRequest struct {
	Name      string                 `json:"name" binding:"required" validate:"required"`
	Code      string                 `json:"code" binding:"required" validate:"required"`
	Type      string                 `json:"type"`
	FleetUUID string                 `json:"fleet_uuid"`
	Config    map[string]interface{} `json:"config"`
}

func (h *Handler) CreateBoard(c *gin.Context) {
	var req createBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": err.Error()})
		return
	}

	board, err := h.workflow.CreateBoard(req.Name, req.Code, req.Type, req.FleetUUID, req.Config)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, board)
}

func (h *Handler) DestroyBoard(c *gin.Context) {
	if err := h.workflow.DestroyBoard(c.Request.Context(), c.Param("uuid")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type actionRequest struct {
	Action string `json:"action" binding:"required" validate:"required"`
}

func (h *Handler) ActionBoard(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	requestUUID, err := h.workflow.ActionBoard(c.Request.Context(), c.Param("uuid"), req.Action)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request_uuid": requestUUID})
}

type createPluginRequest struct {
	Name       string                 `json:"name" binding:"required"`
	Owner      string                 `json:"owner"`
	Code       []byte                 `json:"code"`
	Public     bool                   `json:"public"`
	Callable   bool                   `json:"callable"`
	Parameters map[string]interface{} `json:"parameters"`
}

func (h *Handler) CreatePlugin(c *gin.Context) {
	var req createPluginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	plugin, err := h.workflow.CreatePlugin(req.Name, req.Owner, req.Code, req.Public, req.Callable, req.Parameters)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, plugin)
}

func (h *Handler) DestroyPlugin(c *gin.Context) {
	if err := h.workflow.DestroyPlugin(c.Param("uuid")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type injectPluginRequest struct {
	Onboot bool `json:"onboot"`
}

func (h *Handler) InjectPlugin(c *gin.Context) {
	var req injectPluginRequest
	_ = c.ShouldBindJSON(&req)
	requestUUID, err := h.workflow.InjectPlugin(c.Request.Context(), c.Param("uuid"), c.Param("plugin_uuid"), req.Onboot)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request_uuid": requestUUID})
}

func (h *Handler) RemovePlugin(c *gin.Context) {
	requestUUID, err := h.workflow.RemovePlugin(c.Request.Context(), c.Param("uuid"), c.Param("plugin_uuid"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request_uuid": requestUUID})
}

type createServiceRequest struct {
	Name     string `json:"name" binding:"required"`
	Protocol string `json:"protocol" binding:"required"`
	Port     int    `json:"port" binding:"required"`
}

func (h *Handler) CreateService(c *gin.Context) {
	var req createServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	service, err := h.workflow.CreateService(req.Name, req.Protocol, req.Port)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, service)
}

func (h *Handler) DestroyService(c *gin.Context) {
	if err := h.workflow.DestroyService(c.Param("uuid")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ActionService(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	requestUUID, err := h.workflow.ActionService(c.Request.Context(), c.Param("uuid"), c.Param("service_uuid"), req.Action)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request_uuid": requestUUID})
}

type createWebserviceRequest struct {
	Name      string `json:"name" binding:"required"`
	Port      int    `json:"port" binding:"required"`
	BoardUUID string `json:"board_uuid" binding:"required"`
	Secure    bool   `json:"secure"`
}

func (h *Handler) CreateWebservice(c *gin.Context) {
	var req createWebserviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	ws, err := h.workflow.CreateWebservice(c.Request.Context(), req.BoardUUID, req.Name, req.Port, req.Secure)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ws)
}

type enableWebserviceRequest struct {
	DNS   string `json:"dns" binding:"required"`
	Zone  string `json:"zone" binding:"required"`
	Email string `json:"email" binding:"required"`
}

func (h *Handler) EnableWebservice(c *gin.Context) {
	var req enableWebserviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	enabled, err := h.workflow.EnableWebservice(c.Request.Context(), c.Param("uuid"), req.DNS, req.Zone, req.Email)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, enabled)
}

func (h *Handler) DisableWebservice(c *gin.Context) {
	if err := h.workflow.DisableWebservice(c.Request.Context(), c.Param("uuid")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createPortRequest struct {
	VIFName string `json:"vif_name" binding:"required"`
	MAC     string `json:"mac" binding:"required"`
	Network string `json:"network" binding:"required"`
}

func (h *Handler) CreatePort(c *gin.Context) {
	var req createPortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	port, requestUUID, err := h.workflow.CreatePortOnBoard(c.Request.Context(), c.Param("uuid"), req.VIFName, req.MAC, req.Network)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"port": port, "request_uuid": requestUUID})
}

func (h *Handler) RemovePort(c *gin.Context) {
	requestUUID, err := h.workflow.RemoveVIFFromBoard(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request_uuid": requestUUID})
}

type registerRequest struct {
	Code      string `json:"code" binding:"required"`
	SessionID int64  `json:"session_id"`
}

// Register is the HTTP-side mirror of the WAMP conductor.registration RPC,
// for boards or provisioning tools that reach the Conductor over plain HTTP
// before they have a WAMP session at all.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	result, err := h.onboarding.Register(req.Code, req.SessionID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Serve runs the HTTP ingress until ctx is cancelled, then shuts the server
// down gracefully.
func Serve(ctx context.Context, addr string, engine *gin.Engine) error {
	srv := &http.Server{Addr: addr, Handler: engine}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
