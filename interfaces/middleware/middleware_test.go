package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/infrastructure/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims model.ServiceClaims) string {
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ServiceKey))
	})
	r.GET("/api/x", handlers...)
	return r
}

func do(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	r := newRouter(Auth(secret))
	valid := sign(t, jwt.SigningMethodHS256, []byte(secret), model.ServiceClaims{
		Service:        "scheduler",
		StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(time.Hour).Unix()},
	})
	expired := sign(t, jwt.SigningMethodHS256, []byte(secret), model.ServiceClaims{
		Service:        "scheduler",
		StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(-time.Hour).Unix()},
	})
	wrongKey := sign(t, jwt.SigningMethodHS256, []byte("other"), model.ServiceClaims{Service: "scheduler"})
	minted, err := utils.GenerateServiceToken("cron", secret, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "scheduler"},
		{"minted token", "Bearer " + minted, http.StatusOK, "cron"},
		{"missing header", "", http.StatusUnauthorized, "Unauthorized"},
		{"not bearer", "Basic abc", http.StatusUnauthorized, "Unauthorized"},
		{"malformed", "Bearer nonsense", http.StatusUnauthorized, "That's not even a token"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "Timing is everything"},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized, "Couldn't handle this token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(r, tt.header)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestAuth_EmptySecretRejectsEverything(t *testing.T) {
	r := newRouter(Auth(""))
	token := sign(t, jwt.SigningMethodHS256, []byte(""), model.ServiceClaims{Service: "x"})
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer "+token).Code)
}

func TestRateLimiter(t *testing.T) {
	// 60/min gives a burst of 6
	r := newRouter(NewRateLimiter(60).Handler())
	codes := map[int]int{}
	for i := 0; i < 10; i++ {
		codes[do(r, "").Code]++
	}
	assert.Equal(t, 6, codes[http.StatusOK])
	assert.Equal(t, 4, codes[http.StatusTooManyRequests])
}

func TestRateLimiter_Disabled(t *testing.T) {
	assert.Nil(t, NewRateLimiter(0))
	r := newRouter(NewRateLimiter(0).Handler())
	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, do(r, "").Code)
	}
}
