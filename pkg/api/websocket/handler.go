package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 10 * time.Second

// RunReader returns run snapshots
type RunReader interface {
	GetStatus(ctx context.Context, runID string) (*domain.ExecutionRun, error)
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	runs     RunReader
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, runs RunReader, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		runs:     runs,
		logger:   logger,
	}
}

// HandleRunStream streams the events of one run. The first message is a
// status event carrying the current snapshot; the stream closes after the
// run reaches a terminal status.
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	run, err := h.runs.GetStatus(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": err.Error()}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Detect client close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	eventChan := make(chan domain.Event, 256)
	if err := h.eventBus.Subscribe(ctx, domain.RunEventsTopic, func(ctx context.Context, event domain.Event) error {
		if event.RunID != runID {
			return nil
		}
		select {
		case eventChan <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}); err != nil {
		h.logger.Error("failed to subscribe to events",
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	// Re-read after subscribing so no transition falls between the two
	if latest, err := h.runs.GetStatus(ctx, runID); err == nil {
		run = latest
	}

	snapshot := domain.Event{
		ID:        "snapshot",
		Type:      domain.EventTypeStatusChanged,
		RunID:     runID,
		Timestamp: time.Now(),
		Data:      map[string]any{"status": run.Status, "run": run},
	}
	if err := h.write(conn, snapshot); err != nil || run.Status.IsTerminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			if err := h.write(conn, event); err != nil {
				return
			}
			if isTerminal(event) {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(writeWait))
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug("failed to write message", zap.Error(err))
		return err
	}
	return nil
}

func isTerminal(event domain.Event) bool {
	if event.Type != domain.EventTypeStatusChanged {
		return false
	}
	status, ok := event.Data["status"]
	if !ok {
		return false
	}
	return domain.RunStatus(fmt.Sprint(status)).IsTerminal()
}
