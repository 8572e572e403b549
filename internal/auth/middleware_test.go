package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(mgr *Manager) *gin.Engine {
	r := gin.New()
	r.Use(Middleware(mgr))
	api := r.Group("/api", RequireAuth())
	api.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"userId":    UserID(c),
			"ctxUserId": logging.UserID(c.Request.Context()),
		})
	})
	return r
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer tly_abc", "tly_abc", true},
		{"bearer tly_abc", "tly_abc", true},
		{"  Bearer   tly_abc  ", "tly_abc", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"tly_abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		tok, ok := ParseBearer(tt.header)
		assert.Equal(t, tt.ok, ok, "header %q", tt.header)
		assert.Equal(t, tt.token, tok, "header %q", tt.header)
	}
}

func TestMiddleware_ValidToken(t *testing.T) {
	mgr, _ := newTestManager()
	raw, _, err := mgr.GenerateToken(context.Background(), 42)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	setupRouter(mgr).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(42), body["userId"])
	assert.Equal(t, int64(42), body["ctxUserId"])
}

func TestMiddleware_Rejections(t *testing.T) {
	mgr, now := newTestManager()
	raw, _, err := mgr.GenerateToken(context.Background(), 42)
	require.NoError(t, err)

	cases := map[string]func(r *http.Request){
		"missing header": func(r *http.Request) {},
		"wrong scheme":   func(r *http.Request) { r.Header.Set("Authorization", "Token "+raw) },
		"bare token":     func(r *http.Request) { r.Header.Set("Authorization", raw) },
		"unknown token":  func(r *http.Request) { r.Header.Set("Authorization", "Bearer tly_nope") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/api/whoami", nil)
			mutate(req)
			setupRouter(mgr).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "unauthorized", body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}

	t.Run("expired token", func(t *testing.T) {
		*now = now.Add(DefaultTokenTTL)
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		setupRouter(mgr).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestGetToken_SetByMiddleware(t *testing.T) {
	mgr, _ := newTestManager()
	raw, stored, _ := mgr.GenerateToken(context.Background(), 8)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("Authorization", "Bearer "+raw)

	Middleware(mgr)(c)

	tok, ok := GetToken(c)
	require.True(t, ok)
	assert.Equal(t, stored.ID, tok.ID)
	assert.True(t, IsAuthenticated(c))
}

func TestUserID_Unauthenticated(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Zero(t, UserID(c))
	assert.False(t, IsAuthenticated(c))
	_, ok := GetToken(c)
	assert.False(t, ok)
}

func TestHandler_TokenLifecycle(t *testing.T) {
	mgr, _ := newTestManager()
	raw, _, _ := mgr.GenerateToken(context.Background(), 11)

	r := gin.New()
	r.Use(Middleware(mgr))
	h := NewHandler(mgr)
	h.RegisterRoutes(r.Group("/api"))
	h.RegisterProtectedRoutes(r.Group("/api", RequireAuth()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/auth", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ttlDays":30`)

	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/token", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), raw)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/token", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		APIToken string `json:"apiToken"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEqual(t, raw, created.APIToken)

	// old token no longer works
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/token", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
