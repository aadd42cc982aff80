package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T, env *testEnv, creatorID uuid.UUID) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewHandler(env.m, env.completions, zap.NewNop())
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", creatorID.String())
		c.Next()
	})
	r.POST("/live/start", h.Start)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStartHandlerAcceptsBaseTier(t *testing.T) {
	env := newTestEnv(t)
	creator := uuid.New()
	r := newTestRouter(t, env, creator)

	w := postJSON(t, r, "/live/start", map[string]int{"tier": 0})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body: %s)", w.Code, w.Body.String())
	}

	live, ok := env.m.Live(creator)
	if !ok {
		t.Fatal("no live session after start")
	}
	if live.Tier != 0 {
		t.Fatalf("tier = %d, want 0", live.Tier)
	}
}

func TestStartHandlerRejectsUnknownTier(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(t, env, uuid.New())

	w := postJSON(t, r, "/live/start", map[string]int{"tier": 99})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
