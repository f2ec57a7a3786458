package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

const (
	keepAliveInterval = 30 * time.Second
	snapshotTimeout   = 5 * time.Second // a slow query must not stall the monitor
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// ProgressSource lists the attempts of an exam for the initial snapshot.
type ProgressSource interface {
	ListProgress(ctx context.Context, examID string) ([]model.AttemptProgress, error)
}

// MonitorHandler relays attempt events of an exam to its teacher.
type MonitorHandler struct {
	rdb      *redis.Client
	exams    service.ExamProvider
	progress ProgressSource
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, exams service.ExamProvider, progress ProgressSource, log zerolog.Logger, allowedOrigins []string) *MonitorHandler {
	return &MonitorHandler{
		rdb:      rdb,
		exams:    exams,
		progress: progress,
		log:      log.With().Str("component", "monitor_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// Stream godoc
// WS /ws/v1/teacher/exams/:exam_id/monitor
// Upgrades to WebSocket and forwards every published attempt event.
func (h *MonitorHandler) Stream(c *gin.Context) {
	user, exam, ok := h.authorize(c)
	if !ok {
		return
	}
	examID := exam.ID

	if h.rdb == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrMonitorNotAvailable)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("exam_id", examID).Str("teacher_id", user.ID).Logger()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	pubsub := h.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID))
	defer pubsub.Close()

	// Wait for the subscription so no event published after this point is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		wsLog.Error().Err(err).Msg("Monitor subscribe failed")
		ws.WriteError(conn, "monitor unavailable")
		return
	}
	events := pubsub.Channel()

	if err := h.sendSnapshot(ctx, conn, exam); err != nil {
		wsLog.Warn().Err(err).Msg("Monitor snapshot failed")
		return
	}

	pings := make(chan struct{}, 1)
	go h.readLoop(conn, wsLog, pings, cancel)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	wsLog.Info().Msg("Teacher attached to live monitor")

	for {
		select {
		case <-ctx.Done():
			wsLog.Info().Msg("Teacher detached from live monitor")
			return

		case msg, ok := <-events:
			if !ok {
				return
			}
			// Forward raw JSON, the payload already is a ws.MonitorEvent.
			if err := ws.WriteRaw(conn, []byte(msg.Payload)); err != nil {
				wsLog.Debug().Err(err).Msg("Monitor write failed")
				return
			}

		case <-pings:
			if err := ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong}); err != nil {
				return
			}

		case <-keepAlive.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		}
	}
}

// Progress godoc
// GET /api/v1/teacher/exams/:exam_id/attempts
// Returns the same snapshot a monitor connection starts with.
func (h *MonitorHandler) Progress(c *gin.Context) {
	_, exam, ok := h.authorize(c)
	if !ok {
		return
	}
	if h.progress == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrMonitorNotAvailable)
		return
	}

	rows, err := h.progress.ListProgress(c.Request.Context(), exam.ID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", exam.ID).Msg("Load monitor progress failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	snap := newSnapshot(exam)
	if rows != nil {
		snap.Attempts = rows
	}
	response.Success(c, http.StatusOK, snap)
}

// authorize resolves the exam and checks the caller owns it. On failure the
// response is already written.
func (h *MonitorHandler) authorize(c *gin.Context) (model.User, *model.Exam, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return user, nil, false
	}

	examID := c.Param("exam_id")
	if _, err := uuid.Parse(examID); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return user, nil, false
	}

	exam, err := h.exams.GetExam(c.Request.Context(), examID)
	if err != nil {
		if errors.Is(err, service.ErrExamNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
			return user, nil, false
		}
		h.log.Error().Err(err).Str("exam_id", examID).Msg("Load exam for monitor failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return user, nil, false
	}

	if user.Role != model.RoleSuperAdmin && exam.TeacherID != user.ID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return user, nil, false
	}
	return user, exam, true
}

func newSnapshot(exam *model.Exam) ws.MonitorSnapshot {
	return ws.MonitorSnapshot{
		Event:    ws.EventSnapshot,
		ExamID:   exam.ID,
		Title:    exam.Title,
		Total:    len(exam.Questions),
		Attempts: []model.AttemptProgress{},
		At:       time.Now().UTC(),
	}
}

// sendSnapshot writes the current attempts of the exam. Events published
// meanwhile are already buffered by the subscription.
func (h *MonitorHandler) sendSnapshot(ctx context.Context, conn *websocket.Conn, exam *model.Exam) error {
	snap := newSnapshot(exam)
	if h.progress != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
		defer cancel()
		rows, err := h.progress.ListProgress(fetchCtx, exam.ID)
		if err != nil {
			// A teacher still gets live events without the backlog.
			h.log.Warn().Err(err).Str("exam_id", exam.ID).Msg("Load monitor progress failed")
		} else if rows != nil {
			snap.Attempts = rows
		}
	}
	return ws.WriteTyped(conn, snap)
}

// readLoop consumes client frames; the connection has a single writer, so
// pings are handed back to Stream.
func (h *MonitorHandler) readLoop(conn *websocket.Conn, log zerolog.Logger, pings chan<- struct{}, cancel context.CancelFunc) {
	defer cancel()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ws.ReadWait))
	})

	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		switch msg.Action {
		case ws.ActionPing:
			select {
			case pings <- struct{}{}:
			default:
			}
		default:
			log.Debug().Str("action", string(msg.Action)).Msg("Ignoring monitor action")
		}
	}
}
