package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/backend/internal/api/handler"
	"pairchat/backend/internal/blob"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/complaint"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/lifecycle"
	"pairchat/backend/internal/matcher"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/moderation"
	"pairchat/backend/internal/ratelimit"
	"pairchat/backend/internal/relay"
	"pairchat/backend/internal/storage"
	"pairchat/backend/internal/storage/storagetest"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
	store  *storage.Service
}

func newTestServer(t *testing.T, tweak func(cfg *config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.Issuer = "pairchat-test"
	cfg.Auth.TokenTTL = time.Hour
	cfg.RateLimit.MatchPerMinute = 100
	cfg.RateLimit.MessagePerMinute = 100
	if tweak != nil {
		tweak(cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := storagetest.NewService(t, nil)
	bus := storage.NewRedisStore(rdb)
	blobs, err := blob.NewStore(t.TempDir(), "/blobs")
	require.NoError(t, err)

	r := relay.NewService(store, moderation.NewFilter([]string{"forbidden"}), blobs, bus)
	hub := chathub.NewManagerService(bus, chathub.RelayHandler{Relay: r})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	h := handler.NewHandler(cfg,
		hub,
		matcher.NewService(store, bus, bus),
		r,
		lifecycle.NewService(store, bus, complaint.NewService(bus)),
		blobs,
		ratelimit.New(rdb),
	)
	return &testServer{t: t, router: h.Router(), store: store}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) anon() (token, id string) {
	s.t.Helper()
	w := s.do(http.MethodGet, "/anonid", "", nil)
	require.Equal(s.t, http.StatusOK, w.Code)
	var out struct {
		Token  string `json:"token"`
		AnonID string `json:"anon_id"`
	}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.Token, out.AnonID
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var chess = map[string]any{"interests": []string{"Chess"}, "language": "en", "age_group": "18-24"}

func (s *testServer) pair() (tokA, tokB string, outcome models.MatchOutcome) {
	s.t.Helper()
	tokA, _ = s.anon()
	tokB, _ = s.anon()

	w := s.do(http.MethodPost, "/match", tokA, chess)
	require.Equal(s.t, http.StatusOK, w.Code)
	waiting := decode[map[string]any](s.t, w)
	assert.Equal(s.t, false, waiting["success"])
	assert.Equal(s.t, "waiting", waiting["status"])

	w = s.do(http.MethodPost, "/match", tokB, chess)
	require.Equal(s.t, http.StatusOK, w.Code)
	matched := decode[map[string]any](s.t, w)
	assert.Equal(s.t, true, matched["success"])
	assert.NotEmpty(s.t, matched["session_id"])
	assert.Contains(s.t, matched, "partner")

	outcome = decode[models.MatchOutcome](s.t, w)
	require.Equal(s.t, models.StatusMatched, outcome.Status)
	require.True(s.t, outcome.Success)
	return tokA, tokB, outcome
}

func TestAuth_Required(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/match", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decode[errorBody](t, w).Error.Code)

	w = s.do(http.MethodGet, "/match", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, _ := s.anon()
	w = s.do(http.MethodGet, "/match", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusIdle, decode[models.MatchOutcome](t, w).Status)
}

func TestAuthenticator_RejectsForeignIssuerAndExpired(t *testing.T) {
	a := handler.NewAuthenticator("secret", "pairchat", time.Hour)
	token, err := a.IssueToken("user-1")
	require.NoError(t, err)

	id, err := a.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)

	_, err = handler.NewAuthenticator("secret", "other", time.Hour).ParseToken(token)
	assert.Error(t, err)

	_, err = handler.NewAuthenticator("other-secret", "pairchat", time.Hour).ParseToken(token)
	assert.Error(t, err)

	expired, err := handler.NewAuthenticator("secret", "pairchat", -time.Minute).IssueToken("user-1")
	require.NoError(t, err)
	_, err = a.ParseToken(expired)
	assert.Error(t, err)
}

func TestMatchAndChatFlow(t *testing.T) {
	s := newTestServer(t, nil)
	tokA, tokB, outcome := s.pair()
	path := "/sessions/" + outcome.SessionID

	// Polling returns the same session to the waiting side.
	w := s.do(http.MethodPost, "/match", tokA, chess)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, outcome.SessionID, decode[models.MatchOutcome](t, w).SessionID)

	w = s.do(http.MethodPost, path+"/messages", tokA, map[string]string{"content": "hi"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(http.MethodPost, path+"/messages", tokB, map[string]string{"content": "hello"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodGet, path+"/messages?limit=10", tokB, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, w)
	require.Len(t, list.Messages, 2)
	assert.Equal(t, "hi", list.Messages[0].Content)

	w = s.do(http.MethodGet, path+"/messages?after="+itoa(list.Messages[0].ID), tokA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello")
	assert.NotContains(t, w.Body.String(), `"hi"`)

	w = s.do(http.MethodPost, path+"/end", tokB, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SessionEnded, decode[models.Session](t, w).Status)

	w = s.do(http.MethodPost, path+"/end", tokA, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, path+"/messages", tokA, map[string]string{"content": "still there?"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "session_closed", decode[errorBody](t, w).Error.Code)

	w = s.do(http.MethodGet, "/match", tokA, nil)
	assert.Equal(t, models.StatusIdle, decode[models.MatchOutcome](t, w).Status)
}

func TestSession_OutsiderAndErrors(t *testing.T) {
	s := newTestServer(t, nil)
	tokA, _, outcome := s.pair()
	tokC, _ := s.anon()
	path := "/sessions/" + outcome.SessionID

	w := s.do(http.MethodGet, path, tokC, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodGet, path+"/messages", tokC, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodPost, path+"/messages", tokC, map[string]string{"content": "hey"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/sessions/missing/end", tokA, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, path+"/messages", tokA, map[string]string{"content": "this is forbidden talk"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "blocked", decode[errorBody](t, w).Error.Code)

	w = s.do(http.MethodGet, path+"/messages?limit=abc", tokA, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/match", tokC, map[string]any{"interests": []string{}, "language": "en", "age_group": "18-24"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decode[errorBody](t, w).Error.Code)
}

func TestReportSession(t *testing.T) {
	s := newTestServer(t, nil)
	tokA, tokB, outcome := s.pair()
	path := "/sessions/" + outcome.SessionID + "/report"

	w := s.do(http.MethodPost, path, tokB, map[string]string{"category": "Unknown"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, path, tokB, map[string]string{"category": "Critical", "reason": "abuse"})
	require.Equal(t, http.StatusCreated, w.Code)
	report := decode[models.Report](t, w)
	assert.Equal(t, outcome.Partner.UserID, report.TargetID)

	// A single critical report reaches the ban threshold.
	w = s.do(http.MethodPost, "/match", tokA, chess)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.RateLimit.MatchPerMinute = 2 })
	token, _ := s.anon()

	for i := 0; i < 2; i++ {
		w := s.do(http.MethodPost, "/match", token, chess)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := s.do(http.MethodPost, "/match", token, chess)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode[errorBody](t, w).Error.Code)

	// Other callers have their own budget.
	other, _ := s.anon()
	w = s.do(http.MethodPost, "/match", other, chess)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAttachmentUploadAndServe(t *testing.T) {
	s := newTestServer(t, nil)
	tokA, tokB, outcome := s.pair()
	path := "/sessions/" + outcome.SessionID + "/attachments"

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "pic.png")
	require.NoError(t, err)
	_, err = fw.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("kind", models.AttachmentImage))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tokA)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	created := decode[struct {
		Attachment models.Attachment `json:"attachment"`
	}](t, w)
	assert.Equal(t, "image/png", created.Attachment.MimeType)
	assert.Equal(t, "/blobs/"+created.Attachment.BlobKey, created.Attachment.URL)

	w = s.do(http.MethodGet, path, tokB, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.Attachment.ID)

	w = s.do(http.MethodGet, created.Attachment.URL, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, png, w.Body.Bytes())

	w = s.do(http.MethodGet, "/blobs/not-a-key", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodGet, "/blobs/"+blob.Key([]byte("never stored")), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func itoa(n uint) string {
	return strconv.FormatUint(uint64(n), 10)
}
