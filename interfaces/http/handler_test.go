package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/cache"
	"publish-pipeline/usecase"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublishUsecase struct {
	mock.Mock
}

func (m *MockPublishUsecase) Publish(ctx context.Context, integrationID string, posts []model.PostDetails) ([]model.PostResponse, error) {
	args := m.Called(ctx, integrationID, posts)
	res, _ := args.Get(0).([]model.PostResponse)
	return res, args.Error(1)
}

func (m *MockPublishUsecase) PublishWithToken(ctx context.Context, provider repository.IProvider, account model.Account, posts []model.PostDetails) []model.PostResponse {
	args := m.Called(ctx, provider, account, posts)
	return args.Get(0).([]model.PostResponse)
}

func (m *MockPublishUsecase) Providers() []usecase.ProviderInfo {
	return m.Called().Get(0).([]usecase.ProviderInfo)
}

type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) Get(ctx context.Context, id string) (*model.Integration, error) {
	args := m.Called(ctx, id)
	i, _ := args.Get(0).(*model.Integration)
	return i, args.Error(1)
}

func (m *MockCredentialStore) Put(ctx context.Context, id string, d *model.AuthTokenDetails) error {
	return m.Called(ctx, id, d).Error(0)
}

func (m *MockCredentialStore) Connect(ctx context.Context, provider string, d *model.AuthTokenDetails) (*model.Integration, error) {
	args := m.Called(ctx, provider, d)
	i, _ := args.Get(0).(*model.Integration)
	return i, args.Error(1)
}

func (m *MockCredentialStore) Reconnect(ctx context.Context, id string, d *model.AuthTokenDetails) (*model.Integration, error) {
	args := m.Called(ctx, id, d)
	i, _ := args.Get(0).(*model.Integration)
	return i, args.Error(1)
}

func (m *MockCredentialStore) Expire(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockPreflight struct {
	mock.Mock
}

func (m *MockPreflight) Run(ctx context.Context, files []*model.PendingFile, obs usecase.RunObservers) model.PreflightResult {
	return m.Called(ctx, files).Get(0).(model.PreflightResult)
}

// stubProvider only implements the connect flow.
type stubProvider struct {
	auth     model.AuthResult
	verifier string
}

func (p *stubProvider) Identifier() string    { return "stub" }
func (p *stubProvider) Name() string          { return "Stub" }
func (p *stubProvider) MaxLength() int        { return 100 }
func (p *stubProvider) MaxConcurrentJob() int { return 1 }
func (p *stubProvider) ClassifyError(body string) model.Classification {
	return model.Classification{}
}
func (p *stubProvider) GenerateAuthURL(ctx context.Context, extra map[string]string) (*model.AuthURL, error) {
	return &model.AuthURL{URL: "https://stub.example/auth?region=" + extra["region"], State: "st-1", CodeVerifier: "cv-1"}, nil
}
func (p *stubProvider) Authenticate(ctx context.Context, code, verifier string) model.AuthResult {
	p.verifier = verifier
	return p.auth
}
func (p *stubProvider) RefreshToken(ctx context.Context, token string) (*model.AuthTokenDetails, error) {
	return nil, errors.New("unsupported")
}

func perform(r http.Handler, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestPublishHandler(t *testing.T) {
	uc := new(MockPublishUsecase)
	h := NewPublishHandler(uc)
	r := gin.New()
	r.POST("/api/publish/:integrationID", h.Publish)
	r.GET("/api/providers", h.Providers)

	posts := []model.PostDetails{{ID: "p1", Message: "hello"}}
	uc.On("Publish", mock.Anything, "int-1", posts).
		Return([]model.PostResponse{{ID: "p1", Status: model.StatusFailed, Failure: &model.Failure{Kind: model.FailureTransient, Message: "busy"}}}, nil)
	uc.On("Publish", mock.Anything, "missing", posts).Return(nil, model.ErrIntegrationNotFound)
	uc.On("Providers").Return([]usecase.ProviderInfo{{Identifier: "facebook"}})

	body, _ := json.Marshal(map[string]interface{}{"posts": posts})

	rec := perform(r, http.MethodPost, "/api/publish/int-1", bytes.NewBuffer(body), "application/json")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"failed"`)
	assert.Contains(t, rec.Body.String(), `"integration_id":"int-1"`)

	rec = perform(r, http.MethodPost, "/api/publish/missing", bytes.NewBuffer(body), "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = perform(r, http.MethodPost, "/api/publish/int-1", bytes.NewBufferString(`{"posts":[]}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = perform(r, http.MethodGet, "/api/providers", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"identifier":"facebook"`)
	uc.AssertExpectations(t)
}

func newOAuthRouter(p *stubProvider, store repository.ICredentialStore, states repository.IOAuthStateStore) *gin.Engine {
	h := NewOAuthHandler(usecase.NewProviderRegistry(p), states, store)
	r := gin.New()
	r.GET("/auth/:provider", h.GetAuthURL)
	r.GET("/auth/:provider/callback", h.Callback)
	return r
}

func TestOAuthHandler_ConnectFlow(t *testing.T) {
	details := &model.AuthTokenDetails{ID: "ext-1", AccessToken: "tok", Name: "Page"}
	p := &stubProvider{auth: model.AuthResult{Token: details}}
	store := new(MockCredentialStore)
	store.On("Connect", mock.Anything, "stub", details).Return(&model.Integration{ID: "int-9", Provider: "stub"}, nil)
	states := cache.NewMemoryStateStore()
	r := newOAuthRouter(p, store, states)

	rec := perform(r, http.MethodGet, "/auth/stub?region=eu", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "region=eu")
	assert.Contains(t, rec.Body.String(), `"state":"st-1"`)

	rec = perform(r, http.MethodGet, "/auth/stub/callback?code=abc&state=st-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"int-9"`)
	assert.Equal(t, "cv-1", p.verifier)

	// the state is single use
	rec = perform(r, http.MethodGet, "/auth/stub/callback?code=abc&state=st-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	store.AssertNumberOfCalls(t, "Connect", 1)
}

func TestOAuthHandler_CallbackFailures(t *testing.T) {
	p := &stubProvider{auth: model.AuthResult{Failure: "missing permissions: pages_manage_posts"}}
	store := new(MockCredentialStore)
	states := cache.NewMemoryStateStore()
	require.NoError(t, states.SaveState(context.Background(), "good", model.OAuthState{Provider: "stub", CodeVerifier: "v"}, time.Minute))
	require.NoError(t, states.SaveState(context.Background(), "other", model.OAuthState{Provider: "facebook"}, time.Minute))
	r := newOAuthRouter(p, store, states)

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantBody string
	}{
		{"unknown provider", "/auth/nope/callback?code=a&state=good", http.StatusNotFound, "unknown provider"},
		{"missing code", "/auth/stub/callback?state=good", http.StatusBadRequest, "missing code"},
		{"denied", "/auth/stub/callback?error=access_denied", http.StatusBadRequest, "access_denied"},
		{"state for another provider", "/auth/stub/callback?code=a&state=other", http.StatusBadRequest, "invalid or expired state"},
		{"provider failure", "/auth/stub/callback?code=a&state=good", http.StatusBadRequest, "missing permissions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := perform(r, http.MethodGet, tt.target, nil, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
	store.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything, mock.Anything)
}

// pageProvider adds page selection to the connect flow.
type pageProvider struct {
	stubProvider
	pages    []model.Page
	selected *model.AuthTokenDetails
	err      error
	token    string
}

func (p *pageProvider) Pages(ctx context.Context, accessToken string) ([]model.Page, error) {
	p.token = accessToken
	return p.pages, p.err
}

func (p *pageProvider) SelectPage(ctx context.Context, accessToken, pageID string) (*model.AuthTokenDetails, error) {
	p.token = accessToken
	if p.err != nil {
		return nil, p.err
	}
	return p.selected, nil
}

func newPagesRouter(p repository.IProvider, store repository.ICredentialStore) *gin.Engine {
	h := NewOAuthHandler(usecase.NewProviderRegistry(p), cache.NewMemoryStateStore(), store)
	r := gin.New()
	r.GET("/api/integrations/:integrationID/pages", h.Pages)
	r.POST("/api/integrations/:integrationID/pages", h.SelectPage)
	return r
}

func TestOAuthHandler_PageSelection(t *testing.T) {
	pageDetails := &model.AuthTokenDetails{ID: "page-1", Name: "My Page", AccessToken: "page-tok", RefreshToken: "page-tok"}
	p := &pageProvider{
		pages:    []model.Page{{ID: "page-1", Name: "My Page"}, {ID: "page-2", Name: "Other"}},
		selected: pageDetails,
	}
	pending := &model.Integration{ID: "int-1", Provider: "stub", ProfileID: "user-1", AccessToken: "user-tok", InBetweenSteps: true}
	store := new(MockCredentialStore)
	store.On("Get", mock.Anything, "int-1").Return(pending, nil)
	store.On("Reconnect", mock.Anything, "int-1", pageDetails).
		Return(&model.Integration{ID: "int-1", Provider: "stub", ProfileID: "page-1", Name: "My Page"}, nil).Once()
	r := newPagesRouter(p, store)

	rec := perform(r, http.MethodGet, "/api/integrations/int-1/pages", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"page-2"`)
	assert.Equal(t, "user-tok", p.token)

	rec = perform(r, http.MethodPost, "/api/integrations/int-1/pages", bytes.NewBufferString(`{"page_id":"page-1"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"profile_id":"page-1"`)
	assert.Contains(t, rec.Body.String(), `"in_between_steps":false`)
	store.AssertExpectations(t)
}

func TestOAuthHandler_PageSelectionRefusals(t *testing.T) {
	store := new(MockCredentialStore)
	store.On("Get", mock.Anything, "done").Return(&model.Integration{ID: "done", Provider: "stub"}, nil)
	store.On("Get", mock.Anything, "gone").Return(nil, model.ErrIntegrationNotFound)
	store.On("Get", mock.Anything, "pending").Return(&model.Integration{ID: "pending", Provider: "stub", InBetweenSteps: true}, nil)

	tests := []struct {
		name     string
		provider repository.IProvider
		method   string
		target   string
		body     string
		wantCode int
	}{
		{"already selected", &pageProvider{}, http.MethodGet, "/api/integrations/done/pages", "", http.StatusConflict},
		{"unknown integration", &pageProvider{}, http.MethodGet, "/api/integrations/gone/pages", "", http.StatusNotFound},
		{"provider without pages", &stubProvider{}, http.MethodGet, "/api/integrations/pending/pages", "", http.StatusBadRequest},
		{"provider error", &pageProvider{err: errors.New("graph down")}, http.MethodGet, "/api/integrations/pending/pages", "", http.StatusBadGateway},
		{"missing page id", &pageProvider{}, http.MethodPost, "/api/integrations/pending/pages", `{}`, http.StatusBadRequest},
		{"selection error", &pageProvider{err: errors.New("no page token")}, http.MethodPost, "/api/integrations/pending/pages", `{"page_id":"p"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := perform(newPagesRouter(tt.provider, store), tt.method, tt.target, bytes.NewBufferString(tt.body), "application/json")
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
	store.AssertNotCalled(t, "Reconnect", mock.Anything, mock.Anything, mock.Anything)
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for name, ctype := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		h.Set("Content-Type", ctype)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, _ = part.Write([]byte("content of " + name))
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestMediaHandler_Upload(t *testing.T) {
	pf := new(MockPreflight)
	pf.On("Run", mock.Anything, mock.MatchedBy(func(files []*model.PendingFile) bool {
		if len(files) != 2 {
			return false
		}
		types := map[string]string{}
		for _, f := range files {
			types[f.Name] = f.Type
			if f.ID == "" || f.Source == nil {
				return false
			}
		}
		return types["a.jpg"] == "image/jpeg" && types["b.bin"] == ""
	})).Return(model.PreflightResult{
		Saved:    []model.SavedMedia{{Name: "a.jpg", Path: "https://cdn.example/a.jpg"}},
		Rejected: []model.Rejection{{Name: "b.bin", Stage: "type", Message: "not allowed"}},
	})

	r := gin.New()
	r.POST("/api/media", NewMediaHandler(pf).Upload)

	body, ctype := multipartBody(t, map[string]string{"a.jpg": "image/jpeg", "b.bin": "application/octet-stream"})
	rec := perform(r, http.MethodPost, "/api/media", body, ctype)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://cdn.example/a.jpg")
	assert.Contains(t, rec.Body.String(), "not allowed")
	pf.AssertExpectations(t)
}

func TestMediaHandler_BadForm(t *testing.T) {
	pf := new(MockPreflight)
	r := gin.New()
	r.POST("/api/media", NewMediaHandler(pf).Upload)

	rec := perform(r, http.MethodPost, "/api/media", bytes.NewBufferString("plain"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ctype := multipartBody(t, map[string]string{})
	rec = perform(r, http.MethodPost, "/api/media", body, ctype)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "no files"))
	pf.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) Notify(ctx context.Context, event model.PublishEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockHistory) ListByIntegration(ctx context.Context, integrationID string, limit int) ([]*model.PublishRecord, error) {
	args := m.Called(ctx, integrationID, limit)
	list, _ := args.Get(0).([]*model.PublishRecord)
	return list, args.Error(1)
}

func TestHistoryHandler_List(t *testing.T) {
	hist := new(MockHistory)
	hist.On("ListByIntegration", mock.Anything, "int-1", 200).
		Return([]*model.PublishRecord{{ID: 1, IntegrationID: "int-1", PostID: "p1", Status: model.StatusCompleted}}, nil)
	hist.On("ListByIntegration", mock.Anything, "broken", 0).Return(nil, errors.New("db down"))

	r := gin.New()
	r.GET("/api/integrations/:integrationID/history", NewHistoryHandler(hist).List)

	rec := perform(r, http.MethodGet, "/api/integrations/int-1/history?limit=999", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"post_id":"p1"`)

	rec = perform(r, http.MethodGet, "/api/integrations/broken/history", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	hist.AssertExpectations(t)
}
