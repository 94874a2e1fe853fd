package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Zuo-Peng/chatmask/internal/archive"
	"github.com/Zuo-Peng/chatmask/internal/export"
	"github.com/Zuo-Peng/chatmask/internal/ingest"
	"github.com/Zuo-Peng/chatmask/internal/parse"
	"github.com/Zuo-Peng/chatmask/internal/render"
	"github.com/Zuo-Peng/chatmask/internal/report"
	"github.com/Zuo-Peng/chatmask/internal/session"
)

type skippedEntry struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type uploadResponse struct {
	Conversations int            `json:"conversations"`
	Messages      int            `json:"messages"`
	Skipped       []skippedEntry `json:"skipped_entries"`
}

// uploadArchive accepts a multipart "file" field or a raw zip body named by
// ?name=.
func (s *Server) uploadArchive(w http.ResponseWriter, r *http.Request) {
	done, err := s.deps.Session.BeginIngest()
	if err != nil {
		writeError(w, http.StatusConflict, err, "")
		return
	}
	defer done()

	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	name, data, err := readUpload(r)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, err, "")
			return
		}
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	res, err := s.deps.Ingester.Ingest(r.Context(), archive.Source{Name: name, Size: int64(len(data))}, data)
	if err != nil {
		var aerr *archive.Error
		switch {
		case errors.As(err, &aerr), errors.Is(err, ingest.ErrEmptyResult):
			writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("upload failed: %w", err), ingest.Hint)
		default:
			writeError(w, http.StatusInternalServerError, err, "")
		}
		return
	}

	s.deps.Session.Load(res.Conversations)
	if s.deps.Store != nil {
		if err := s.deps.Store.ReplaceConversations(res.Conversations, archive.Source{Name: name, Size: int64(len(data))}, s.now()); err != nil {
			s.log.Error("persist conversations", zap.Error(err))
		}
	}

	resp := uploadResponse{
		Conversations: len(res.Conversations),
		Messages:      res.Stats.Normalize.Messages,
		Skipped:       []skippedEntry{},
	}
	for _, ee := range res.Recovered {
		resp.Skipped = append(resp.Skipped, skippedEntry{Name: ee.Name, Error: ee.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func readUpload(r *http.Request) (string, []byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return "", nil, fmt.Errorf("read upload: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return "", nil, fmt.Errorf("read upload: %w", err)
		}
		return hdr.Filename, data, nil
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		return "", nil, errors.New("missing archive name: use a multipart file or ?name=")
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	return name, data, nil
}

type messageView struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Timestamp parse.Timestamp `json:"timestamp,omitempty"`
}

type conversationView struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Included     bool          `json:"included"`
	MessageCount int           `json:"message_count"`
	Messages     []messageView `json:"messages"`
	More         int           `json:"more_messages,omitempty"`
}

// view masks up to limit messages of c (0 = all).
func (s *Server) view(c parse.Conversation, limit int) conversationView {
	m := s.deps.Session.Mask()
	shown := c.Messages
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	v := conversationView{
		ID:           c.ID,
		Title:        c.Title,
		Included:     c.Included,
		MessageCount: len(c.Messages),
		Messages:     make([]messageView, len(shown)),
		More:         len(c.Messages) - len(shown),
	}
	for i, msg := range shown {
		v.Messages[i] = messageView{Role: msg.Role, Content: m.Apply(msg.Content), Timestamp: msg.Timestamp}
	}
	return v
}

type listResponse struct {
	Counts        countsView         `json:"counts"`
	Conversations []conversationView `json:"conversations"`
}

type countsView struct {
	Conversations int `json:"conversations"`
	Included      int `json:"included"`
	Messages      int `json:"messages"`
	Rules         int `json:"rules"`
}

func (s *Server) counts() countsView {
	n := s.deps.Session.Counts()
	return countsView{Conversations: n.Conversations, Included: n.Included, Messages: n.Messages, Rules: n.Rules}
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	resp := listResponse{Counts: s.counts(), Conversations: []conversationView{}}
	for _, c := range s.deps.Session.Conversations() {
		resp.Conversations = append(resp.Conversations, s.view(c, render.PreviewMessages))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Session.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err, "")
		return
	}
	writeJSON(w, http.StatusOK, s.view(c, 0))
}

func (s *Server) toggleConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	included, err := s.deps.Session.Toggle(id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, err, "")
		return
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.SetIncluded(id, included); err != nil {
			s.log.Warn("persist selection", zap.String("id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "included": included})
}

func (s *Server) selectAll(w http.ResponseWriter, r *http.Request) {
	all, err := strconv.ParseBool(r.URL.Query().Get("all"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("query parameter all must be true or false"), "")
		return
	}
	s.deps.Session.SetAll(all)
	if s.deps.Store != nil {
		if err := s.deps.Store.SetAllIncluded(all); err != nil {
			s.log.Warn("persist selection", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, s.counts())
}

type ruleRequest struct {
	Pattern string `json:"pattern"`
}

type rulesResponse struct {
	Changed bool     `json:"changed"`
	Rules   []string `json:"rules"`
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rulesResponse{Rules: s.deps.Session.Mask().Rules()})
}

func (s *Server) addRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode rule: %w", err), "")
		return
	}
	s.rulesMu.Lock()
	m := s.deps.Session.Mask()
	changed := m.AddRule(req.Pattern)
	s.saveRules(changed)
	rules := m.Rules()
	s.rulesMu.Unlock()

	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	writeJSON(w, status, rulesResponse{Changed: changed, Rules: rules})
}

func (s *Server) removeRule(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" && r.ContentLength != 0 {
		var req ruleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode rule: %w", err), "")
			return
		}
		pattern = req.Pattern
	}
	s.rulesMu.Lock()
	m := s.deps.Session.Mask()
	changed := m.RemoveRule(pattern)
	s.saveRules(changed)
	rules := m.Rules()
	s.rulesMu.Unlock()

	writeJSON(w, http.StatusOK, rulesResponse{Changed: changed, Rules: rules})
}

// saveRules persists the rules as entered. Callers hold rulesMu so the stored
// set matches the last mutation.
func (s *Server) saveRules(changed bool) {
	if !changed || s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.SaveRules(s.deps.Session.Mask().Patterns()); err != nil {
		s.log.Warn("persist rules", zap.Error(err))
	}
}

func (s *Server) payload(w http.ResponseWriter) (export.Payload, bool) {
	p, err := export.Serialize(s.deps.Session.Conversations(), s.deps.Session.Mask())
	if errors.Is(err, export.ErrNothingSelected) {
		writeError(w, http.StatusUnprocessableEntity, err, "")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err, "")
		return nil, false
	}
	return p, true
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	p, ok := s.payload(w)
	if !ok {
		return
	}
	b, err := export.Marshal(p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err, "")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename(s.now())))
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Submitter == nil {
		writeError(w, http.StatusServiceUnavailable, report.ErrNotConfigured, "")
		return
	}
	p, ok := s.payload(w)
	if !ok {
		return
	}
	sub := export.NewSubmission(p, s.deps.ParticipantID, s.now())
	if err := s.deps.Submitter.Submit(r.Context(), sub); err != nil {
		if errors.Is(err, report.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, err, "")
			return
		}
		s.log.Error("submission failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":          sub.SessionID,
		"total_conversations": sub.TotalConversations,
		"total_messages":      sub.TotalMessages,
	})
}

type helpRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

func (s *Server) help(w http.ResponseWriter, r *http.Request) {
	if s.deps.Help == nil {
		writeError(w, http.StatusServiceUnavailable, report.ErrNotConfigured, "")
		return
	}
	var req helpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode help request: %w", err), "")
		return
	}
	err := s.deps.Help.Send(r.Context(), req.Email, req.Message)
	switch {
	case errors.Is(err, report.ErrMissingFields), errors.Is(err, report.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, err, "")
	case err != nil:
		writeError(w, http.StatusBadGateway, err, "Failed to send message. Please try again or email directly.")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	}
}

// reset is refused while an upload is being ingested.
func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	done, err := s.deps.Session.BeginIngest()
	if err != nil {
		writeError(w, http.StatusConflict, err, "")
		return
	}
	defer done()

	s.rulesMu.Lock()
	defer s.rulesMu.Unlock()
	s.deps.Session.Reset()
	if s.deps.Store != nil {
		if err := s.deps.Store.Clear(); err != nil {
			writeError(w, http.StatusInternalServerError, err, "")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
