package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zuo-Peng/chatmask/internal/archive/archivetest"
	"github.com/Zuo-Peng/chatmask/internal/export"
	"github.com/Zuo-Peng/chatmask/internal/ingest"
	"github.com/Zuo-Peng/chatmask/internal/report"
	"github.com/Zuo-Peng/chatmask/internal/session"
	"github.com/Zuo-Peng/chatmask/internal/store"
)

const exportJSON = `[
  {"title": "Weekend", "mapping": {
    "a": {"message": {"author": {"role": "user"}, "content": {"parts": ["Dinner with Alice on Saturday"]}}},
    "b": {"message": {"author": {"role": "assistant"}, "create_time": 1700000000, "content": {"parts": ["Have fun, alice!"]}}}
  }},
  {"title": "Work", "mapping": {
    "a": {"message": {"author": {"role": "user"}, "content": {"parts": ["one"]}}},
    "b": {"message": {"author": {"role": "assistant"}, "content": {"parts": ["two"]}}},
    "c": {"message": {"author": {"role": "user"}, "content": {"parts": ["three"]}}},
    "d": {"message": {"author": {"role": "assistant"}, "content": {"parts": ["four"]}}}
  }}
]`

type fakeSubmitter struct {
	got []export.Submission
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, sub export.Submission) error {
	f.got = append(f.got, sub)
	return f.err
}

type fakeHelp struct{ sent int }

func (f *fakeHelp) Send(_ context.Context, email, message string) error {
	req := report.HelpRequest{Email: email, Message: message}
	if err := req.Validate(); err != nil {
		return err
	}
	f.sent++
	return nil
}

type fakeReporter struct {
	mu       sync.Mutex
	failures []ingest.Failure
}

func (f *fakeReporter) ReportFailure(_ context.Context, fl ingest.Failure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, fl)
	return nil
}

type fixture struct {
	srv  *Server
	sess *session.Session
	db   *store.DB
	sub  *fakeSubmitter
	help *fakeHelp
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "srv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{sess: session.New(), db: db, sub: &fakeSubmitter{}, help: &fakeHelp{}}
	f.srv = New(":0", Deps{
		Session:       f.sess,
		Store:         db,
		Submitter:     f.sub,
		Help:          f.help,
		Registry:      prometheus.NewRegistry(),
		ParticipantID: "p-1",
	})
	f.srv.now = func() time.Time { return time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) upload(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	data := archivetest.Zip(t, archivetest.File{Name: "conversations.json", Body: exportJSON})
	return f.do(t, http.MethodPost, "/api/v1/archive?name=export.zip", data, "application/zip")
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestNotFoundEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/nonexistent", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadAndList(t *testing.T) {
	f := newFixture(t)

	w := f.upload(t)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	up := decode[uploadResponse](t, w)
	assert.Equal(t, 2, up.Conversations)
	assert.Equal(t, 6, up.Messages)
	assert.Empty(t, up.Skipped)

	n, err := f.db.ConversationCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	w = f.do(t, http.MethodGet, "/api/v1/conversations", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[listResponse](t, w)
	require.Len(t, list.Conversations, 2)
	assert.Equal(t, countsView{Conversations: 2, Included: 2, Messages: 6}, list.Counts)

	work := list.Conversations[1]
	assert.Equal(t, "0-1", work.ID)
	assert.Len(t, work.Messages, 3)
	assert.Equal(t, 1, work.More)
}

func TestUploadMultipart(t *testing.T) {
	f := newFixture(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "chatgpt.zip")
	require.NoError(t, err)
	_, err = part.Write(archivetest.Zip(t, archivetest.File{Name: "conversations.json", Body: exportJSON}))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := f.do(t, http.MethodPost, "/api/v1/archive", body.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, f.sess.Counts().Conversations)
}

func TestUploadFailures(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/archive?name=export.rar", []byte("x"), "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode[errorBody](t, w).Error, "ZIP")

	w = f.do(t, http.MethodPost, "/api/v1/archive?name=export.zip", []byte("not a zip"), "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[errorBody](t, w)
	assert.Contains(t, body.Error, "invalid or corrupted archive")
	assert.Equal(t, ingest.Hint, body.Hint)

	empty := archivetest.Zip(t, archivetest.File{Name: "user.json", Body: `{"email": "a@b.c"}`})
	w = f.do(t, http.MethodPost, "/api/v1/archive?name=export.zip", empty, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode[errorBody](t, w).Error, ingest.ErrEmptyResult.Error())

	w = f.do(t, http.MethodPost, "/api/v1/archive", []byte("x"), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadNotZipReported(t *testing.T) {
	f := newFixture(t)
	rep := &fakeReporter{}
	f.srv.deps.Ingester = &ingest.Ingester{Reporter: rep, Metrics: ingest.NewMetrics(prometheus.NewRegistry())}

	w := f.do(t, http.MethodPost, "/api/v1/archive?name=export.rar", []byte("x"), "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[errorBody](t, w)
	assert.Contains(t, body.Error, "please upload a ZIP file")
	assert.Equal(t, ingest.Hint, body.Hint)

	require.Len(t, rep.failures, 1)
	assert.Equal(t, "export.rar", rep.failures[0].Source.Name)
	assert.Zero(t, f.sess.Counts().Conversations)
}

func TestUploadTooLarge(t *testing.T) {
	f := newFixture(t)
	f.srv.deps.MaxUploadBytes = 16

	w := f.do(t, http.MethodPost, "/api/v1/archive?name=big.zip", bytes.Repeat([]byte("x"), 64), "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUploadWhileIngesting(t *testing.T) {
	f := newFixture(t)
	done, err := f.sess.BeginIngest()
	require.NoError(t, err)

	w := f.upload(t)
	assert.Equal(t, http.StatusConflict, w.Code)

	done()
	w = f.upload(t)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestToggleAndSelect(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.upload(t).Code)

	w := f.do(t, http.MethodPost, "/api/v1/conversations/0-0/toggle", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["included"])

	stored, err := f.db.Conversations()
	require.NoError(t, err)
	assert.False(t, stored[0].Included)

	w = f.do(t, http.MethodPost, "/api/v1/conversations/nope/toggle", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/conversations/select?all=false", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[countsView](t, w).Included)

	w = f.do(t, http.MethodPost, "/api/v1/conversations/select?all=maybe", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRules(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/rules", []byte(`{"pattern": "Alice"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"alice"}, decode[rulesResponse](t, w).Rules)

	w = f.do(t, http.MethodPost, "/api/v1/rules", []byte(`{"pattern": "ALICE "}`), "application/json")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[rulesResponse](t, w).Changed)

	w = f.do(t, http.MethodPost, "/api/v1/rules", []byte(`{"pattern": "   "}`), "application/json")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/rules", []byte(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	rules, err := f.db.Rules()
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, rules)

	w = f.do(t, http.MethodDelete, "/api/v1/rules?pattern=alice", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[rulesResponse](t, w).Changed)

	w = f.do(t, http.MethodGet, "/api/v1/rules", nil, "")
	assert.Empty(t, decode[rulesResponse](t, w).Rules)
}

func TestRules_ConcurrentAddsPersistAll(t *testing.T) {
	f := newFixture(t)
	h := f.srv.Handler()

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"pattern": "Name%d"}`, i)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, http.StatusCreated, w.Code)
		}(i)
	}
	wg.Wait()

	stored, err := f.db.Rules()
	require.NoError(t, err)
	assert.Len(t, stored, n)
	assert.Equal(t, f.sess.Mask().Patterns(), stored)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.upload(t).Code)
	f.do(t, http.MethodPost, "/api/v1/rules", []byte(`{"pattern": "alice"}`), "application/json")
	f.do(t, http.MethodPost, "/api/v1/conversations/0-1/toggle", nil, "")

	w := f.do(t, http.MethodGet, "/api/v1/export", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="chatgpt-export-filtered-2024-06-02.json"`, w.Header().Get("Content-Disposition"))

	p := decode[export.Payload](t, w)
	require.Len(t, p, 1)
	assert.Equal(t, "Weekend", p[0].Title)
	assert.Equal(t, "Dinner with █████ on Saturday", p[0].Messages[0].Content)
	assert.Equal(t, "Have fun, █████!", p[0].Messages[1].Content)
	assert.Equal(t, "1700000000", p[0].Messages[1].Timestamp.String())
	assert.NotContains(t, w.Body.String(), "lice")

	f.do(t, http.MethodPost, "/api/v1/conversations/select?all=false", nil, "")
	w = f.do(t, http.MethodGet, "/api/v1/export", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, export.ErrNothingSelected.Error(), decode[errorBody](t, w).Error)
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.upload(t).Code)

	w := f.do(t, http.MethodPost, "/api/v1/submit", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, f.sub.got, 1)
	sub := f.sub.got[0]
	assert.Equal(t, "p-1", sub.ParticipantID)
	assert.Equal(t, 2, sub.TotalConversations)
	assert.Equal(t, 6, sub.TotalMessages)
	assert.Equal(t, "2024-06-02T08:00:00Z", sub.Timestamp)

	f.sub.err = errors.New("remote down")
	w = f.do(t, http.MethodPost, "/api/v1/submit", nil, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSubmit_NotConfigured(t *testing.T) {
	f := newFixture(t)
	f.srv.deps.Submitter = nil
	w := f.do(t, http.MethodPost, "/api/v1/submit", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHelp(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/help", []byte(`{"email": "me@example.com", "message": "stuck"}`), "application/json")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.help.sent)

	w = f.do(t, http.MethodPost, "/api/v1/help", []byte(`{"email": "nope", "message": "stuck"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, report.ErrInvalidEmail.Error(), decode[errorBody](t, w).Error)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.upload(t).Code)
	f.do(t, http.MethodPost, "/api/v1/rules", []byte(`{"pattern": "x"}`), "application/json")

	w := f.do(t, http.MethodDelete, "/api/v1/session", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, session.Counts{}, f.sess.Counts())

	n, err := f.db.ConversationCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResetWhileIngesting(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.upload(t).Code)
	done, err := f.sess.BeginIngest()
	require.NoError(t, err)

	w := f.do(t, http.MethodDelete, "/api/v1/session", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 2, f.sess.Counts().Conversations)
	n, err := f.db.ConversationCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	done()
	w = f.do(t, http.MethodDelete, "/api/v1/session", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, f.sess.Counts().Conversations)
}

func TestGetConversation(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.upload(t).Code)

	w := f.do(t, http.MethodGet, "/api/v1/conversations/0-1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[conversationView](t, w)
	assert.Len(t, v.Messages, 4)
	assert.Zero(t, v.More)

	w = f.do(t, http.MethodGet, "/api/v1/conversations/9", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/health", nil, "")

	w := f.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `chatmask_http_requests_total{code="200",route="/health"} 1`), w.Body.String())
}
