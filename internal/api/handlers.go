package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"murmur/internal/meetings"
	"murmur/internal/pipeline"
	"murmur/internal/services"
	"murmur/internal/services/transcriber"
)

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MeetingURL string `json:"meeting_url"`
		BotName    string `json:"bot_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.MeetingURL) == "" {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "join", "meeting_url required", nil))
		return
	}

	meeting, err := s.orch.Join(r.Context(), userID(r), req.MeetingURL, req.BotName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"meeting_id": meeting.ID,
		"message":    "Bot dispatched to meeting",
	})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MeetingID string `json:"meeting_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.MeetingID == "" {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "leave", "meeting_id required", nil))
		return
	}
	if err := s.orch.Leave(r.Context(), userID(r), req.MeetingID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.orch.PollStatus(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if view.Discarded {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  view.Status,
			"message": view.Message,
		})
		return
	}

	payload := map[string]any{
		"status":      view.Status,
		"audio_ready": view.AudioReady,
		"timestamp":   view.Timestamp,
	}
	if view.RawStatus != "" {
		payload["raw_status"] = view.RawStatus
	}
	if view.ProcessState != "" {
		payload["process_state"] = string(view.ProcessState)
	}
	if view.Artifacts != (meetings.FilePaths{}) {
		payload["artifacts"] = view.Artifacts
	}
	writeJSON(w, http.StatusOK, payload)
}

type meetingView struct {
	ID           string `json:"id"`
	MeetingID    string `json:"meeting_id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	ProcessState string `json:"process_state"`
	CreatedAt    string `json:"created_at"`
	Duration     string `json:"duration"`
	Date         string `json:"date"`
}

func (s *Server) handleMeetings(w http.ResponseWriter, r *http.Request) {
	list, err := s.orch.ListMeetings(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]meetingView, 0, len(list))
	for _, meeting := range list {
		views = append(views, meetingView{
			ID:           meeting.ID,
			MeetingID:    meeting.ID,
			UserID:       meeting.UserID,
			Status:       string(meeting.ProcessState),
			ProcessState: string(meeting.ProcessState),
			CreatedAt:    meeting.CreatedAt.UTC().Format(time.RFC3339),
			Duration:     formatDuration(meeting.DurationSeconds),
			Date:         meeting.CreatedAt.UTC().Format("2006-01-02"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "meetings": views})
}

// formatDuration renders seconds as MM:SS, switching to HH:MM:SS past an hour.
func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	sec := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text     string                `json:"text"`
		Segments []transcriber.Segment `json:"segments"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	version, hash, err := s.orch.SaveTranscriptRevision(r.Context(), userID(r), chi.URLParam(r, "id"), req.Text, req.Segments)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"version": version,
		"hash":    hash,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req pipeline.VerifyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.orch.Verify(r.Context(), userID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type revisionView struct {
	ID          int64  `json:"id"`
	Version     int    `json:"version"`
	Type        string `json:"type"`
	ContentHash string `json:"content_hash"`
	CreatedAt   string `json:"created_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	switch kind {
	case "", meetings.KindTranscript, meetings.KindSummary:
	default:
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "history", "type must be transcript or summary", nil))
		return
	}

	revisions, err := s.orch.History(r.Context(), userID(r), chi.URLParam(r, "id"), kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]revisionView, 0, len(revisions))
	for _, rev := range revisions {
		views = append(views, revisionView{
			ID:          rev.ID,
			Version:     rev.Version,
			Type:        rev.Kind,
			ContentHash: rev.ContentHash,
			CreatedAt:   rev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "revisions": views})
}

func (s *Server) handleRevisionContent(w http.ResponseWriter, r *http.Request) {
	rid, err := strconv.ParseInt(chi.URLParam(r, "rid"), 10, 64)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "revision content", "revision id must be numeric", nil))
		return
	}
	raw, err := s.orch.RevisionContent(r.Context(), userID(r), rid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "content": json.RawMessage(raw)})
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RevisionID int64 `json:"revision_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	newVersion, err := s.orch.RevertToRevision(r.Context(), userID(r), chi.URLParam(r, "id"), req.RevisionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "new_version": newVersion})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version int `json:"version"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Version < 1 {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "checkout", "version must be positive", nil))
		return
	}
	if err := s.orch.CheckoutVersion(r.Context(), userID(r), chi.URLParam(r, "id"), req.Version); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Delete(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Retry(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
