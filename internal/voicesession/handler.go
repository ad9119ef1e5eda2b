package voicesession

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/eleven-am/voice-client/internal/dto"
	"github.com/eleven-am/voice-client/internal/session"
	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/eleven-am/voice-client/internal/transcript"
	"github.com/eleven-am/voice-client/internal/transport"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	manager     *Manager
	sessions    *session.Store
	transcripts *transcript.Store
	logger      *slog.Logger
}

// NewHandler accepts nil stores; lookups then only cover live sessions.
func NewHandler(manager *Manager, sessions *session.Store, transcripts *transcript.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		manager:     manager,
		sessions:    sessions,
		transcripts: transcripts,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/transcript", h.Transcript)
	g.POST("/:id/text", h.SendText)
	g.POST("/:id/image", h.SendImage)
	g.POST("/:id/commit", h.Commit)
	g.POST("/:id/interrupt", h.Interrupt)
	g.POST("/:id/mute", h.Mute)
}

// List godoc
// @Summary      List voice sessions
// @Tags         sessions
// @Produce      json
// @Success      200  {object}  dto.SessionListResponse
// @Failure      500  {object}  shared.APIError
// @Router       /sessions [get]
func (h *Handler) List(c echo.Context) error {
	seen := make(map[string]bool)
	resp := dto.SessionListResponse{Sessions: []dto.SessionResponse{}}

	for _, info := range h.manager.ListSessions() {
		seen[info.SessionID] = true
		resp.Sessions = append(resp.Sessions, infoToResponse(info))
	}

	if h.sessions != nil {
		records, err := h.sessions.List(c.Request().Context())
		if err != nil {
			h.logger.Error("failed to list session records", "error", err)
			return shared.InternalError("list_failed", "failed to list sessions")
		}
		for _, rec := range records {
			if seen[rec.ID] {
				continue
			}
			resp.Sessions = append(resp.Sessions, recordToResponse(rec))
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// Create godoc
// @Summary      Start a voice session
// @Tags         sessions
// @Produce      json
// @Success      201  {object}  dto.SessionResponse
// @Failure      409  {object}  shared.APIError
// @Failure      503  {object}  shared.APIError
// @Router       /sessions [post]
func (h *Handler) Create(c echo.Context) error {
	s, err := h.manager.CreateSession(c.Request().Context())
	if errors.Is(err, ErrSessionActive) {
		return shared.Conflict("session_active", "a voice session is already active")
	}
	if err != nil {
		h.logger.Error("failed to start voice session", "error", err)
		return shared.Unavailable("connect_failed", "failed to connect to the voice server")
	}
	return c.JSON(http.StatusCreated, infoToResponse(s.Info()))
}

// Get godoc
// @Summary      Get a voice session
// @Tags         sessions
// @Produce      json
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  dto.SessionResponse
// @Failure      404  {object}  shared.APIError
// @Router       /sessions/{id} [get]
func (h *Handler) Get(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	var resp dto.SessionResponse
	if s, ok := h.manager.GetSession(id); ok {
		resp = infoToResponse(s.Info())
		resp.ServerURL = s.cfg.Transport.BaseURL
		resp.Events = s.conn.HasEvents()
	} else {
		if h.sessions == nil {
			return shared.NotFound("session_not_found", "session not found")
		}
		rec, err := h.sessions.Get(ctx, id)
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("session_not_found", "session not found")
		}
		if err != nil {
			h.logger.Error("failed to get session record", "error", err, "session_id", id)
			return shared.InternalError("get_failed", "failed to get session")
		}
		resp = recordToResponse(rec)
	}

	if h.sessions != nil {
		counters, err := h.sessions.Counters(ctx, id)
		if err != nil {
			h.logger.Warn("failed to read session counters", "error", err, "session_id", id)
		} else if len(counters) > 0 {
			resp.Counters = counters
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// Delete godoc
// @Summary      Stop a voice session
// @Description  Stops the live session. With purge=true the persisted record and transcript are removed as well.
// @Tags         sessions
// @Param        id     path   string  true   "Session ID"
// @Param        purge  query  bool    false  "Remove persisted data"
// @Success      204
// @Failure      404  {object}  shared.APIError
// @Router       /sessions/{id} [delete]
func (h *Handler) Delete(c echo.Context) error {
	id := c.Param("id")
	_, live := h.manager.GetSession(id)
	if live {
		h.manager.RemoveSession(id)
	}

	if c.QueryParam("purge") != "true" {
		if !live {
			return shared.NotFound("session_not_found", "session not found")
		}
		return c.NoContent(http.StatusNoContent)
	}

	found, err := h.purge(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("failed to purge session", "error", err, "session_id", id)
		return shared.InternalError("purge_failed", "failed to purge session")
	}
	if !live && !found {
		return shared.NotFound("session_not_found", "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) purge(ctx context.Context, id string) (bool, error) {
	found := false
	if h.sessions != nil {
		if _, err := h.sessions.Get(ctx, id); err == nil {
			found = true
		} else if !errors.Is(err, shared.ErrNotFound) {
			return false, err
		}
		if err := h.sessions.Delete(ctx, id); err != nil {
			return false, err
		}
	}
	if h.transcripts != nil {
		err := h.transcripts.DeleteBySession(ctx, id)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, shared.ErrNotFound):
			return false, err
		}
	}
	return found, nil
}

// Transcript godoc
// @Summary      Get the running transcript
// @Tags         sessions
// @Produce      json
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  dto.TranscriptResponse
// @Failure      404  {object}  shared.APIError
// @Router       /sessions/{id}/transcript [get]
func (h *Handler) Transcript(c echo.Context) error {
	id := c.Param("id")
	resp := dto.TranscriptResponse{SessionID: id, Fragments: []dto.TranscriptFragment{}}

	if s, ok := h.manager.GetSession(id); ok {
		for _, e := range s.TranscriptEntries() {
			resp.Fragments = append(resp.Fragments, dto.TranscriptFragment{Seq: e.Seq, Text: e.Text, At: e.At})
		}
		resp.Text = s.Transcript()
		return c.JSON(http.StatusOK, resp)
	}

	if h.transcripts == nil {
		return shared.NotFound("session_not_found", "session not found")
	}
	frags, err := h.transcripts.ListBySession(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("failed to load transcript", "error", err, "session_id", id)
		return shared.InternalError("transcript_failed", "failed to load transcript")
	}
	if len(frags) == 0 {
		return shared.NotFound("transcript_not_found", "transcript not found")
	}

	var b strings.Builder
	for _, f := range frags {
		b.WriteString(f.Text)
		resp.Fragments = append(resp.Fragments, dto.TranscriptFragment{Seq: f.Seq, Text: f.Text, At: f.CreatedAt})
	}
	resp.Text = b.String()
	return c.JSON(http.StatusOK, resp)
}

// SendText godoc
// @Summary      Send a typed user turn
// @Tags         sessions
// @Accept       json
// @Param        id       path  string               true  "Session ID"
// @Param        request  body  dto.SendTextRequest  true  "Text"
// @Success      202
// @Failure      400  {object}  shared.APIError
// @Failure      404  {object}  shared.APIError
// @Failure      409  {object}  shared.APIError
// @Router       /sessions/{id}/text [post]
func (h *Handler) SendText(c echo.Context) error {
	s, err := h.live(c)
	if err != nil {
		return err
	}

	var req dto.SendTextRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return shared.BadRequest("missing_text", "text is required")
	}

	if err := s.SendText(c.Request().Context(), req.Text); err != nil {
		return h.sendError(err, s.ID())
	}
	return c.NoContent(http.StatusAccepted)
}

// SendImage godoc
// @Summary      Send an image with a prompt
// @Tags         sessions
// @Accept       json
// @Produce      json
// @Param        id       path      string                true  "Session ID"
// @Param        request  body      dto.SendImageRequest  true  "Image"
// @Success      202      {object}  dto.SendImageResponse
// @Failure      400      {object}  shared.APIError
// @Failure      404      {object}  shared.APIError
// @Failure      409      {object}  shared.APIError
// @Router       /sessions/{id}/image [post]
func (h *Handler) SendImage(c echo.Context) error {
	s, err := h.live(c)
	if err != nil {
		return err
	}

	var req dto.SendImageRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(req.Image, imageDataPrefix))
	if err != nil || len(data) == 0 {
		return shared.BadRequest("invalid_image", "image must be base64 encoded JPEG data")
	}

	id, err := s.SendImage(c.Request().Context(), data, req.Prompt)
	if err != nil {
		return h.sendError(err, s.ID())
	}
	return c.JSON(http.StatusAccepted, dto.SendImageResponse{ImageID: id})
}

// Commit godoc
// @Summary      Commit buffered microphone audio
// @Tags         sessions
// @Param        id   path  string  true  "Session ID"
// @Success      202
// @Failure      404  {object}  shared.APIError
// @Failure      409  {object}  shared.APIError
// @Router       /sessions/{id}/commit [post]
func (h *Handler) Commit(c echo.Context) error {
	s, err := h.live(c)
	if err != nil {
		return err
	}
	if err := s.CommitAudio(c.Request().Context()); err != nil {
		return h.sendError(err, s.ID())
	}
	return c.NoContent(http.StatusAccepted)
}

// Interrupt godoc
// @Summary      Interrupt the current reply
// @Tags         sessions
// @Param        id   path  string  true  "Session ID"
// @Success      202
// @Failure      404  {object}  shared.APIError
// @Failure      409  {object}  shared.APIError
// @Router       /sessions/{id}/interrupt [post]
func (h *Handler) Interrupt(c echo.Context) error {
	s, err := h.live(c)
	if err != nil {
		return err
	}
	if err := s.Interrupt(c.Request().Context()); err != nil {
		return h.sendError(err, s.ID())
	}
	return c.NoContent(http.StatusAccepted)
}

// Mute godoc
// @Summary      Mute or unmute the microphone
// @Tags         sessions
// @Accept       json
// @Produce      json
// @Param        id       path      string           true  "Session ID"
// @Param        request  body      dto.MuteRequest  true  "Mute state"
// @Success      200      {object}  dto.MuteResponse
// @Failure      400      {object}  shared.APIError
// @Failure      404      {object}  shared.APIError
// @Router       /sessions/{id}/mute [post]
func (h *Handler) Mute(c echo.Context) error {
	s, err := h.live(c)
	if err != nil {
		return err
	}
	var req dto.MuteRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	s.SetMuted(req.Muted)
	return c.JSON(http.StatusOK, dto.MuteResponse{Muted: s.Muted()})
}

func (h *Handler) live(c echo.Context) (*VoiceSession, error) {
	s, ok := h.manager.GetSession(c.Param("id"))
	if !ok {
		return nil, shared.NotFound("session_not_found", "session not found")
	}
	return s, nil
}

func (h *Handler) sendError(err error, sessionID string) error {
	switch shared.StatusOf(err) {
	case http.StatusConflict:
		return shared.Conflict("session_not_open", "session is not open")
	case http.StatusServiceUnavailable:
		return shared.Unavailable("send_unavailable", err.Error())
	}
	h.logger.Error("failed to send to voice server", "error", err, "session_id", sessionID)
	return shared.InternalError("send_failed", "failed to send message")
}

func infoToResponse(info SessionInfo) dto.SessionResponse {
	return dto.SessionResponse{
		ID:            info.SessionID,
		State:         info.State,
		Live:          info.State != transport.StateClosed.String(),
		Muted:         info.Muted,
		CaptureActive: info.CaptureActive,
		Error:         info.Error,
		StartedAt:     info.StartedAt,
	}
}

func recordToResponse(rec *session.Record) dto.SessionResponse {
	return dto.SessionResponse{
		ID:        rec.ID,
		ServerURL: rec.ServerURL,
		State:     rec.State,
		Events:    rec.Events,
		Error:     rec.Error,
		StartedAt: rec.StartedAt,
		EndedAt:   rec.EndedAt,
	}
}
