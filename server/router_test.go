package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"publish-pipeline/infrastructure/configuration"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubPublishHandler struct{}

func (stubPublishHandler) Publish(c *gin.Context)   { c.Status(http.StatusAccepted) }
func (stubPublishHandler) Providers(c *gin.Context) { c.Status(http.StatusOK) }
func (stubPublishHandler) Healthz(c *gin.Context)   { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }

func TestInitiateRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := InitiateRouter(configuration.App{SecretKey: "s", FrontendURL: "https://app.example"}, configuration.Publish{}, Handlers{
		Publish: stubPublishHandler{},
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// api routes need a service token
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/publish/abc", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// optional routes are not mounted when their handler is nil
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/facebook", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAllowedOrigins(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, allowedOrigins(" https://a.example/, https://b.example"))
	assert.Equal(t, []string{"http://localhost:4200"}, allowedOrigins(""))
}
