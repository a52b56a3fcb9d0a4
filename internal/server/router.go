package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veritas-maps/veritas/internal/coordination"
	"github.com/veritas-maps/veritas/internal/projects"
	"github.com/veritas-maps/veritas/internal/realtime"
	"github.com/veritas-maps/veritas/internal/sessions"
)

const userIDContextKey = "veritas_user_id"

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingEventRouter    = errors.New("event router dependency required")
	errMissingSessionService = errors.New("session service dependency required")
	errMissingProjectService = errors.New("project service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the backend bearer tokens used on both
// the REST surface and the websocket handshake.
type TokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the collaboration core.
type Dependencies struct {
	TokenManager   TokenManager
	EventRouter    *realtime.Router
	SessionService *sessions.Service
	ProjectService *projects.Service
	Database       *gorm.DB
	Coordination   coordination.Store
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin handler: token issuance, project/session
// REST endpoints, health probe and the authenticated websocket upgrade.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.EventRouter == nil {
		return nil, errMissingEventRouter
	}
	if deps.SessionService == nil {
		return nil, errMissingSessionService
	}
	if deps.ProjectService == nil {
		return nil, errMissingProjectService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:       deps.TokenManager,
		eventRouter:  deps.EventRouter,
		sessions:     deps.SessionService,
		projects:     deps.ProjectService,
		db:           deps.Database,
		coordination: deps.Coordination,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	router.POST("/auth/token", handler.handleIssueToken)
	router.GET("/healthz", handler.handleHealth)
	router.GET("/ws", handler.handleWebsocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/projects", handler.handleCreateProject)
	protected.POST("/projects/:projectID/sessions/join", handler.handleJoinProjectSession)

	return router, nil
}

type httpHandler struct {
	tokens       TokenManager
	eventRouter  *realtime.Router
	sessions     *sessions.Service
	projects     *projects.Service
	db           *gorm.DB
	coordination coordination.Store
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

type tokenRequestPayload struct {
	UserID string `json:"user_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), strings.TrimSpace(request.UserID))
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	status := http.StatusOK
	report := gin.H{"status": "ok"}

	if h.db != nil {
		if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			report["database"] = "unreachable"
			report["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			report["database"] = "ok"
		}
	}
	if h.coordination != nil {
		if err := h.coordination.Ping(c.Request.Context()); err != nil {
			report["coordination"] = "unreachable"
			report["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			report["coordination"] = "ok"
		}
	}

	c.JSON(status, report)
}

// handleWebsocket authenticates the handshake and hands the connection to
// the event router. Authentication failure terminates the request before any
// presence registration happens.
func (h *httpHandler) handleWebsocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("websocket token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connectionID := uuid.NewString()
	client := realtime.NewClient(connectionID, userID, conn, h.eventRouter, h.logger)
	if err := h.eventRouter.Connect(client); err != nil {
		h.logger.Error("connection registration failed", zap.Error(err),
			zap.String("connection_id", connectionID))
		_ = conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(context.Background())
}

type createProjectPayload struct {
	ProjectID     string   `json:"project_id"`
	Title         string   `json:"title"`
	Public        bool     `json:"public"`
	Collaborators []string `json:"collaborators"`
}

func (h *httpHandler) handleCreateProject(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request createProjectPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ProjectID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	project, err := h.projects.Create(c.Request.Context(), strings.TrimSpace(request.ProjectID), userID, request.Title, request.Public, request.Collaborators)
	if err != nil {
		h.logger.Error("project creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "project_create_failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"project_id": project.ProjectID,
		"owner_id":   project.OwnerID,
	})
}

type joinSessionResponsePayload struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
}

// handleJoinProjectSession joins the caller to the project's active
// collaborative session, creating it on first join, and returns the session
// id the client then uses on the websocket.
func (h *httpHandler) handleJoinProjectSession(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	rawProjectID := c.Param("projectID")

	allowed, err := h.projects.CanAccess(c.Request.Context(), rawProjectID, userID)
	if errors.Is(err, projects.ErrProjectNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("project access check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "access_check_failed"})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied"})
		return
	}

	projectID, err := sessions.NewProjectID(rawProjectID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	joinerID, err := sessions.NewUserID(userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.sessions.JoinProject(c.Request.Context(), projectID, joinerID)
	if err != nil {
		h.logger.Error("session join failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_join_failed"})
		return
	}

	c.JSON(http.StatusOK, joinSessionResponsePayload{
		SessionID: session.ID.String(),
		ProjectID: session.ProjectID.String(),
		Status:    string(session.Status),
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
