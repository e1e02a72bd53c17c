package arena

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/practice-arena/backend/internal/content"
	"github.com/practice-arena/backend/internal/middleware"
	"github.com/practice-arena/backend/internal/models"
)

func newTestRouter(t *testing.T, h *harness, user *uuid.UUID) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, *user)
		c.Next()
	})
	handler := NewHandler(h.svc, zaptest.NewLogger(t))
	r.POST("/arenas", handler.Create)
	r.POST("/arenas/join", handler.Join)
	r.GET("/arenas/:id", handler.Get)
	r.POST("/arenas/:id/start", handler.Start)
	r.POST("/arenas/:id/answers", handler.Answer)
	r.POST("/arenas/:id/cancel", handler.Cancel)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerStatusCodes(t *testing.T) {
	h := newHarness(t)
	host := uuid.New()
	user := host
	r := newTestRouter(t, h, &user)

	rec := do(t, r, http.MethodPost, "/arenas", map[string]any{"content_source": "PODCAST"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad source, got %d", rec.Code)
	}

	rec = do(t, r, http.MethodPost, "/arenas", map[string]any{
		"title":             "Cells",
		"content_source":    "CUSTOM",
		"time_per_question": 15,
		"questions":         customQuestions(3),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Success bool `json:"success"`
		Data    struct {
			ID         uuid.UUID `json:"id"`
			InviteCode string    `json:"invite_code"`
			Status     string    `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !created.Success || created.Data.Status != "LOBBY" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	arenaPath := "/arenas/" + created.Data.ID.String()

	user = uuid.New()
	if rec = do(t, r, http.MethodPost, "/arenas/join", map[string]any{"invite_code": created.Data.InviteCode}); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 on join, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec = do(t, r, http.MethodPost, "/arenas/join", map[string]any{"invite_code": created.Data.InviteCode}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate join, got %d", rec.Code)
	}
	if rec = do(t, r, http.MethodPost, arenaPath+"/start", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-host start, got %d", rec.Code)
	}
	if rec = do(t, r, http.MethodPost, arenaPath+"/answers", map[string]any{"question_id": uuid.NewString(), "selected_answer": 7}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range answer, got %d", rec.Code)
	}
	if rec = do(t, r, http.MethodPost, arenaPath+"/answers", map[string]any{"question_id": uuid.NewString(), "selected_answer": 1}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 answering in LOBBY, got %d", rec.Code)
	}

	user = host
	if rec = do(t, r, http.MethodPost, arenaPath+"/cancel", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec = do(t, r, http.MethodGet, "/arenas/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown arena, got %d", rec.Code)
	}
	if rec = do(t, r, http.MethodGet, "/arenas/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestStartReportsContentFailures(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"source timed out": {err: context.DeadlineExceeded, want: http.StatusServiceUnavailable},
		"source failed":    {err: errors.New("model refused"), want: http.StatusBadGateway},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.pipe.Register(models.SourceStudyHistory, content.SourceFunc(func(context.Context, content.Request) ([]content.GeneratedQuestion, error) {
				return nil, tc.err
			}))
			host := uuid.New()
			session, err := h.svc.Create(context.Background(), CreateParams{
				HostID:        host,
				ContentSource: models.SourceStudyHistory,
				QuestionCount: 5,
			})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			user := host
			r := newTestRouter(t, h, &user)
			rec := do(t, r, http.MethodPost, "/arenas/"+session.ID.String()+"/start", nil)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}
