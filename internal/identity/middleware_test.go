package identity_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/SteelWatch/internal/identity"
)

func adminRouter(t *testing.T) (*gin.Engine, *identity.AdminTokens) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens := newTestTokens(t, time.Hour)
	r := gin.New()
	r.POST("/guarded", identity.RequireAdmin(tokens), func(c *gin.Context) {
		c.String(http.StatusOK, identity.ClaimsFromCtx(c).Subject)
	})
	return r, tokens
}

func TestRequireAdmin(t *testing.T) {
	router, tokens := adminRouter(t)
	good, _ := tokens.Issue("ops")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"valid token", "Bearer " + good, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if tt.want == http.StatusOK && w.Body.String() != "ops" {
				t.Errorf("claims subject: got %q", w.Body.String())
			}
		})
	}
}
