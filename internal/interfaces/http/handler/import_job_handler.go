package handler

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	importapp "github.com/storefront/backend/internal/application/import"
	"github.com/storefront/backend/internal/domain/bulk"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/interfaces/http/dto"
	"github.com/storefront/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// UserHeader optionally names the operator who starts an import. The gateway
// in front of this service sets it after authenticating the caller.
const UserHeader = "X-User-ID"

const (
	defaultHeartbeat  = 15 * time.Second
	defaultMaxStreams = 1000
	wsWriteWait       = 10 * time.Second
	wsReadLimit       = 512
)

// ImportJobService is the job engine as seen by the HTTP layer
type ImportJobService interface {
	StartJob(ctx context.Context, tenantID uuid.UUID, req importapp.StartJobRequest) (*importapp.ImportJobResponse, error)
	PauseJob(ctx context.Context, tenantID, jobID uuid.UUID) (*importapp.ImportJobResponse, error)
	ResumeJob(ctx context.Context, tenantID, jobID uuid.UUID) (*importapp.ImportJobResponse, error)
	CancelJob(ctx context.Context, tenantID, jobID uuid.UUID) (*importapp.ImportJobResponse, error)
	GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*importapp.ImportJobResponse, error)
	ListJobs(ctx context.Context, tenantID uuid.UUID, filter importapp.ListJobsFilter, page, pageSize int) (*importapp.ImportJobListResponse, error)
	Subscribe(jobID uuid.UUID) (<-chan bulk.ProgressSnapshot, func())
}

// wsMessage is the frame written to WebSocket subscribers
type wsMessage struct {
	Type    string                `json:"type"`
	Payload bulk.ProgressSnapshot `json:"payload"`
}

// ImportJobHandler serves the import job control API and its progress streams
type ImportJobHandler struct {
	BaseHandler
	service    ImportJobService
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	heartbeat  time.Duration
	maxStreams int64
	streams    atomic.Int64
}

// ImportJobHandlerOption configures an ImportJobHandler
type ImportJobHandlerOption func(*ImportJobHandler)

// WithHandlerLogger sets the logger used for stream lifecycle messages
func WithHandlerLogger(l *zap.Logger) ImportJobHandlerOption {
	return func(h *ImportJobHandler) {
		h.logger = l
	}
}

// WithHeartbeat sets how often idle SSE streams send a heartbeat and
// WebSocket streams send a ping.
func WithHeartbeat(interval time.Duration) ImportJobHandlerOption {
	return func(h *ImportJobHandler) {
		if interval > 0 {
			h.heartbeat = interval
		}
	}
}

// WithMaxStreams caps concurrently open progress streams
func WithMaxStreams(n int) ImportJobHandlerOption {
	return func(h *ImportJobHandler) {
		h.maxStreams = int64(n)
	}
}

// WithAllowedOrigins lets browsers on the listed origins open WebSocket
// streams. "*" allows any origin. Without it only same-origin upgrades pass.
func WithAllowedOrigins(origins []string) ImportJobHandlerOption {
	return func(h *ImportJobHandler) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

// NewImportJobHandler creates a new ImportJobHandler
func NewImportJobHandler(service ImportJobService, opts ...ImportJobHandlerOption) *ImportJobHandler {
	h := &ImportJobHandler{
		service: service,
		logger:  zap.NewNop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		heartbeat:  defaultHeartbeat,
		maxStreams: defaultMaxStreams,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the import job routes on rg
func (h *ImportJobHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Start)
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.POST("/:id/pause", h.Pause)
	rg.POST("/:id/resume", h.Resume)
	rg.POST("/:id/cancel", h.Cancel)
	rg.GET("/:id/progress", h.StreamSSE)
	rg.GET("/:id/ws", h.StreamWebSocket)
}

// ActiveStreams reports the number of open progress streams
func (h *ImportJobHandler) ActiveStreams() int {
	return int(h.streams.Load())
}

// Start starts an order import for the tenant. POST /import-jobs
func (h *ImportJobHandler) Start(c *gin.Context) {
	tenantID, ok := h.bindTenant(c)
	if !ok {
		return
	}

	var req importapp.StartJobRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.HandleValidationError(c, err)
			return
		}
	}
	if raw := c.GetHeader(UserHeader); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, "X-User-ID must be a UUID")
			return
		}
		req.RequestedBy = &userID
	}

	job, err := h.service.StartJob(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, job)
}

// List returns the tenant's import jobs, newest first. GET /import-jobs
func (h *ImportJobHandler) List(c *gin.Context) {
	tenantID, ok := h.bindTenant(c)
	if !ok {
		return
	}

	var paging dto.ListRequest
	if err := c.ShouldBindQuery(&paging); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	var filter importapp.ListJobsFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	paging = paging.WithDefaults()

	result, err := h.service.ListJobs(c.Request.Context(), tenantID, filter, paging.Page, paging.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, result.Items, result.Total, result.Page, result.PageSize)
}

// Get returns one import job
func (h *ImportJobHandler) Get(c *gin.Context) {
	h.respond(c, h.service.GetJob)
}

// Pause stops a running job after its current batch
func (h *ImportJobHandler) Pause(c *gin.Context) {
	h.respond(c, h.service.PauseJob)
}

// Resume continues a paused job from its checkpoint
func (h *ImportJobHandler) Resume(c *gin.Context) {
	h.respond(c, h.service.ResumeJob)
}

// Cancel ends a job for good
func (h *ImportJobHandler) Cancel(c *gin.Context) {
	h.respond(c, h.service.CancelJob)
}

func (h *ImportJobHandler) respond(c *gin.Context, op func(context.Context, uuid.UUID, uuid.UUID) (*importapp.ImportJobResponse, error)) {
	tenantID, ok := h.bindTenant(c)
	if !ok {
		return
	}
	jobID, ok := h.bindJobID(c)
	if !ok {
		return
	}
	job, err := op(c.Request.Context(), tenantID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, job)
}

// openStream subscribes to a job's progress and loads its current state.
// Subscribing first means no transition between the read and the
// subscription is lost. On failure the HTTP error is already written.
func (h *ImportJobHandler) openStream(c *gin.Context) (bulk.ProgressSnapshot, <-chan bulk.ProgressSnapshot, func(), bool) {
	tenantID, ok := h.bindTenant(c)
	if !ok {
		return bulk.ProgressSnapshot{}, nil, nil, false
	}
	jobID, ok := h.bindJobID(c)
	if !ok {
		return bulk.ProgressSnapshot{}, nil, nil, false
	}
	if h.maxStreams > 0 && h.streams.Load() >= h.maxStreams {
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeRateLimited, "Maximum number of progress streams reached")
		return bulk.ProgressSnapshot{}, nil, nil, false
	}

	updates, unsubscribe := h.service.Subscribe(jobID)
	job, err := h.service.GetJob(c.Request.Context(), tenantID, jobID)
	if err != nil {
		unsubscribe()
		h.HandleError(c, err)
		return bulk.ProgressSnapshot{}, nil, nil, false
	}

	h.streams.Add(1)
	release := func() {
		unsubscribe()
		h.streams.Add(-1)
	}
	return job.Snapshot(), updates, release, true
}

// StreamSSE streams import progress as Server-Sent Events
func (h *ImportJobHandler) StreamSSE(c *gin.Context) {
	first, updates, release, ok := h.openStream(c)
	if !ok {
		return
	}
	defer release()

	log := logger.GetGinLogger(c).With(zap.String("job_id", first.JobID.String()))
	log.Debug("Progress stream opened", zap.String("transport", "sse"))

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	send := func(snap bulk.ProgressSnapshot) {
		c.SSEvent("progress", snap)
		c.Writer.Flush()
	}

	send(first)
	if first.Final {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug("Progress stream closed by client")
			return
		case snap, open := <-updates:
			if !open {
				return
			}
			send(snap)
			if snap.Final {
				return
			}
		case t := <-ticker.C:
			c.SSEvent("heartbeat", gin.H{"timestamp": t.Unix()})
			c.Writer.Flush()
		}
	}
}

// StreamWebSocket streams import progress over a WebSocket
func (h *ImportJobHandler) StreamWebSocket(c *gin.Context) {
	first, updates, release, ok := h.openStream(c)
	if !ok {
		return
	}
	defer release()

	log := logger.GetGinLogger(c).With(zap.String("job_id", first.JobID.String()))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Warn("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer conn.Close()
	log.Debug("Progress stream opened", zap.String("transport", "websocket"))

	pongWait := 2 * h.heartbeat
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("WebSocket read ended", zap.Error(err))
				}
				return
			}
		}
	}()

	write := func(snap bulk.ProgressSnapshot) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(wsMessage{Type: "progress", Payload: snap}); err != nil {
			return err
		}
		if snap.Final {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		}
		return nil
	}

	if err := write(first); err != nil || first.Final {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case snap, open := <-updates:
			if !open {
				return
			}
			if err := write(snap); err != nil {
				log.Debug("WebSocket write failed", zap.Error(err))
				return
			}
			if snap.Final {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
