package contextapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/recallstack/memory-infra/internal/config"
	"github.com/recallstack/memory-infra/internal/model"
	embedlocal "github.com/recallstack/memory-infra/internal/plugin/embed/local"
	"github.com/recallstack/memory-infra/internal/plugin/route/contextapi"
	_ "github.com/recallstack/memory-infra/internal/plugin/store/sqlstore"
	vectormemory "github.com/recallstack/memory-infra/internal/plugin/vector/memory"
	voicelocal "github.com/recallstack/memory-infra/internal/plugin/voice/local"
	registrymigrate "github.com/recallstack/memory-infra/internal/registry/migrate"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	"github.com/recallstack/memory-infra/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopCache struct{}

func (noopCache) Get(context.Context, string, string) ([]string, bool) { return nil, false }
func (noopCache) Set(context.Context, string, string, []string)       {}
func (noopCache) Remove(context.Context, string, string)              {}

type contextStack struct {
	router     *gin.Engine
	aggregator *service.Aggregator
	records    registrystore.RecordStore
}

func setupContextRouter(t *testing.T) *contextStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.StoragePath = filepath.Join(t.TempDir(), "test.db")
	ctx := config.WithContext(context.Background(), &cfg)
	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	records, err := loader(ctx)
	require.NoError(t, err)

	vectors := vectormemory.New()
	embedder := embedlocal.New(256)
	voice := voicelocal.New()

	indexer := service.NewIndexer(vectors, embedder)
	compounding := service.NewCompounding(records, vectors, voice, noopCache{})
	builder := service.NewContextBuilder(records, vectors, embedder, voice)

	r := gin.New()
	contextapi.MountRoutes(r, builder)
	return &contextStack{
		router:     r,
		aggregator: service.NewAggregator(records, indexer, compounding),
		records:    records,
	}
}

func (s *contextStack) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *contextStack) ingest(t *testing.T, ct model.ContentType, title, content string) string {
	t.Helper()
	resp, err := s.aggregator.Ingest(context.Background(), "u1", &model.IngestRequest{
		ContentType: ct,
		Title:       title,
		Content:     content,
	})
	require.NoError(t, err)
	return resp.EntryID
}

type outageEmbedder struct{}

func (outageEmbedder) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding model offline")
}
func (outageEmbedder) ModelName() string { return "offline" }
func (outageEmbedder) Dimension() int    { return 8 }

func TestRetrieveEndpoint_EmbedderOutageReturns503(t *testing.T) {
	s := setupContextRouter(t)

	r := gin.New()
	contextapi.MountRoutes(r, service.NewContextBuilder(s.records, vectormemory.New(), outageEmbedder{}, voicelocal.New()))

	body, err := json.Marshal(model.ContextRequest{Query: "anything"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/context/retrieve?user_id=u1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
}

func TestRetrieveEndpoint(t *testing.T) {
	s := setupContextRouter(t)
	s.ingest(t, model.ContentTypeDocument, "Launch notes", "launch checklist and timings for the release")

	w := s.do(t, http.MethodPost, "/api/context/retrieve?user_id=u1", model.ContextRequest{
		Query: "launch checklist and timings for the release",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp model.RetrievedContext
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "Launch notes", resp.Sources[0].Title)
	assert.Contains(t, resp.ContextText, "Launch notes")
	assert.Greater(t, resp.TokenCount, 0)
}

func TestRetrieveEndpoint_EmptyMemory(t *testing.T) {
	s := setupContextRouter(t)

	w := s.do(t, http.MethodPost, "/api/context/retrieve?user_id=u1", model.ContextRequest{
		Query: "anything at all",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sources":[]`)
}

func TestRetrieveEndpoint_ValidationFailure(t *testing.T) {
	s := setupContextRouter(t)

	w := s.do(t, http.MethodPost, "/api/context/retrieve?user_id=u1", model.ContextRequest{
		Query: "",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "query")
}

func TestRetrieveEndpoint_RequiresUserID(t *testing.T) {
	s := setupContextRouter(t)

	w := s.do(t, http.MethodPost, "/api/context/retrieve", model.ContextRequest{Query: "q"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "user_id")
}

func TestVoiceEndpoint_NotFoundBeforeSamples(t *testing.T) {
	s := setupContextRouter(t)

	w := s.do(t, http.MethodPost, "/api/context/voice?user_id=u1", model.VoiceContextRequest{})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Voice profile not found")
}

func TestVoiceEndpoint_AfterVoiceWorthyIngest(t *testing.T) {
	s := setupContextRouter(t)
	s.ingest(t, model.ContentTypeArticle, "Essay", "writing samples teach the profile distinctive vocabulary choices")

	w := s.do(t, http.MethodPost, "/api/context/voice?user_id=u1", model.VoiceContextRequest{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var voice model.VoiceContext
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &voice))
	assert.InDelta(t, 0.8, voice.Confidence, 1e-9)
	assert.NotEmpty(t, voice.ProfileSummary)
}

func TestSuggestEndpoint(t *testing.T) {
	s := setupContextRouter(t)
	content := "quarterly planning notes with budget figures"
	anchor := s.ingest(t, model.ContentTypeDocument, "Plan A", content)
	s.ingest(t, model.ContentTypeDocument, "Plan B", content)

	w := s.do(t, http.MethodGet, "/api/context/suggest?user_id=u1&entry_id="+anchor, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var sources []model.ContextSource
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sources))
	require.Len(t, sources, 1)
	assert.Equal(t, "Plan B", sources[0].Title)
}

func TestSuggestEndpoint_RequiresEntryID(t *testing.T) {
	s := setupContextRouter(t)

	w := s.do(t, http.MethodGet, "/api/context/suggest?user_id=u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "entry_id")
}

func TestSuggestEndpoint_UnknownEntryIsEmpty(t *testing.T) {
	s := setupContextRouter(t)

	w := s.do(t, http.MethodGet, "/api/context/suggest?user_id=u1&entry_id=ghost", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestPreviewEndpoint(t *testing.T) {
	s := setupContextRouter(t)
	s.ingest(t, model.ContentTypeDocument, "Notes", "preview endpoint exercise content")

	w := s.do(t, http.MethodPost, "/api/context/preview?user_id=u1&prompt_template="+
		"Context:%20%7B%7Bcontext%7D%7D%20Q:%20%7B%7Bquery%7D%7D",
		model.ContextRequest{Query: "preview endpoint exercise content"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result model.PreviewResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Contains(t, result.FinalPrompt, "Q: preview endpoint exercise content")
	assert.NotContains(t, result.FinalPrompt, "{{context}}")
	require.Len(t, result.SourcesUsed, 1)
}

func TestPreviewEndpoint_RequiresTemplate(t *testing.T) {
	s := setupContextRouter(t)

	w := s.do(t, http.MethodPost, "/api/context/preview?user_id=u1", model.ContextRequest{Query: "q"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "prompt_template")
}
