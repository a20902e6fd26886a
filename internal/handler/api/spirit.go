package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"DeltaSpirit/internal/domain/models"
	domrepo "DeltaSpirit/internal/domain/repository"
	"DeltaSpirit/internal/emitter"
	"DeltaSpirit/internal/gateway"
	xhttp "DeltaSpirit/pkg/http"
	xlogger "DeltaSpirit/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway sits behind its own CORS policy; the websocket endpoint
	// accepts any origin the HTTP layer let through.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SpiritHandler exposes the gateway's HTTP surface: status, durable history,
// the live websocket stream, and manual event injection.
type SpiritHandler struct {
	logger     *xlogger.Logger
	hub        *gateway.Hub
	store      domrepo.EventStore
	emitter    *emitter.Emitter
	historyCap int
}

func NewSpiritHandler(logger *xlogger.Logger, hub *gateway.Hub, store domrepo.EventStore, em *emitter.Emitter, historyCap int) *SpiritHandler {
	if historyCap <= 0 {
		historyCap = 100
	}
	return &SpiritHandler{logger: logger, hub: hub, store: store, emitter: em, historyCap: historyCap}
}

func (h *SpiritHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/spirit")
	g.GET("/status", h.Status)
	g.GET("/history", h.History)
	g.GET("/ws", h.Stream)
	g.POST("/heartbeat", h.Heartbeat)

	e.GET("/healthz", h.Health)
}

func (h *SpiritHandler) Status(c echo.Context) error {
	status, _, err := h.hub.Snapshot(c.Request().Context())
	if err != nil {
		h.logger.Error("status snapshot error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, status)
}

func (h *SpiritHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	// Oversized limits clamp to the gateway cap instead of erroring.
	if req.Limit > h.historyCap {
		req.Limit = h.historyCap
	}

	ctx := c.Request().Context()

	var (
		events []*models.SpiritEvent
		err    error
	)
	if fromStr := c.QueryParam("from"); fromStr != "" {
		from := xhttp.ParseTimeDefault(fromStr, time.Time{})
		to := xhttp.ParseTimeDefault(c.QueryParam("to"), time.Now())
		events, err = h.store.Query(ctx, from, to, req.Limit)
	} else {
		events, err = h.store.Recent(ctx, req.Limit)
	}
	if err != nil {
		h.logger.Error("history query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	total, err := h.store.Count(ctx)
	if err != nil {
		h.logger.Error("history count error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	if events == nil {
		events = []*models.SpiritEvent{}
	}
	return xhttp.SuccessResponse(c, &models.HistoryResponse{Events: events, Total: total})
}

func (h *SpiritHandler) Stream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", xlogger.Error(err))
		return err
	}

	h.hub.Attach(c.Request().Context(), conn)
	return nil
}

func (h *SpiritHandler) Heartbeat(c echo.Context) error {
	req := &models.HeartbeatRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	event := &models.SpiritEvent{
		Timestamp:   time.Now().UnixMilli(),
		Type:        models.EventType(req.Type),
		Priority:    models.Priority(req.Priority),
		SpiritState: models.SpiritState(req.SpiritState),
		Title:       req.Title,
		Content:     req.Content,
		Metadata:    req.Metadata,
	}

	if err := h.emitter.Emit(c.Request().Context(), event); err != nil {
		h.logger.Error("manual emit failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, event)
}

func (h *SpiritHandler) Health(c echo.Context) error {
	if err := h.store.Health(c.Request().Context()); err != nil {
		h.logger.Error("health check failed", xlogger.Error(err))
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, "event store unreachable")
	}
	return xhttp.SuccessResponse(c, "ok")
}
