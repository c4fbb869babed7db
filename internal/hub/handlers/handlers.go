// Package handlers exposes the hub's tool surface and supporting endpoints
// over HTTP. Every tool from the shared table is served as a POST endpoint;
// the response body is the same envelope the MCP transport returns.
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/caephub/caephub/internal/common/logger"
	gatewayws "github.com/caephub/caephub/internal/gateway/websocket"
	"github.com/caephub/caephub/internal/hub/service"
	"github.com/caephub/caephub/internal/hub/tools"
)

// maxToolBodyBytes caps tool argument payloads well above the blob limit.
const maxToolBodyBytes = 1 << 20

// Handlers wires the tool table, the agent registry endpoints and the
// activity-stream WebSocket onto a gin router.
type Handlers struct {
	svc      *service.Service
	table    []tools.Tool
	wsHub    *gatewayws.Hub
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// New creates the HTTP handler set.
func New(svc *service.Service, table []tools.Tool, wsHub *gatewayws.Hub, log *logger.Logger) *Handlers {
	return &Handlers{
		svc:   svc,
		table: table,
		wsHub: wsHub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.WithFields(zap.String("component", "http")),
	}
}

// Register mounts all routes. The metrics handler is optional.
func (h *Handlers) Register(router *gin.Engine, metricsHandler http.Handler) {
	router.GET("/health", h.health)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}
	if h.wsHub != nil {
		router.GET("/ws", h.serveWS)
	}

	api := router.Group("/api/v1")
	for _, tool := range h.table {
		api.POST("/tools/"+tool.Name, h.toolEndpoint(tool))
	}
	api.POST("/agents", h.registerAgent)
	api.GET("/agents", h.listAgents)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// toolEndpoint serves one tool: the request body is the tool's JSON argument
// object, the response is the tool envelope under the tool's status.
func (h *Handlers) toolEndpoint(tool tools.Tool) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxToolBodyBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success":    false,
				"error_code": "VALIDATION_ERROR",
				"error":      "failed to read request body",
			})
			return
		}

		res := tool.Handle(c.Request.Context(), body)
		writeResult(c, res)
	}
}

func writeResult(c *gin.Context, res *service.ToolResult) {
	if res.Replayed {
		c.Header("Idempotent-Replay", "true")
	}
	c.Data(res.Status, "application/json", res.Body)
}

type registerAgentBody struct {
	AgentID        string `json:"agent_id"`
	Mode           string `json:"mode"`
	Source         string `json:"source"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handlers) registerAgent(c *gin.Context) {
	var body registerAgentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":    false,
			"error_code": "VALIDATION_ERROR",
			"error":      "invalid request body: " + err.Error(),
		})
		return
	}
	writeResult(c, h.svc.RegisterAgent(c.Request.Context(), service.RegisterAgentRequest{
		AgentID:        body.AgentID,
		Mode:           body.Mode,
		Source:         body.Source,
		IdempotencyKey: body.IdempotencyKey,
	}))
}

func (h *Handlers) listAgents(c *gin.Context) {
	writeResult(c, h.svc.ListAgents(c.Request.Context()))
}

// serveWS upgrades the connection and attaches it to the activity-stream hub.
func (h *Handlers) serveWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := gatewayws.NewClient(uuid.New().String(), conn, h.wsHub, h.logger)
	h.wsHub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
