package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(secret []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/private", AuthMiddleware(secret, zap.NewNop()), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("subject"))
	})
	return r
}

func call(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	r := newRouter(secret)

	token, err := IssueToken(secret, "bibfilter", time.Hour)
	require.NoError(t, err)

	w := call(r, "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "bibfilter", w.Body.String())

	require.Equal(t, http.StatusUnauthorized, call(r, "").Code)
	require.Equal(t, http.StatusUnauthorized, call(r, "Token "+token).Code)

	forged, err := IssueToken([]byte("other"), "bibfilter", time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, call(r, "Bearer "+forged).Code)

	expired, err := IssueToken(secret, "bibfilter", -time.Minute)
	require.NoError(t, err)
	w = call(r, "Bearer "+expired)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "expired")
}
