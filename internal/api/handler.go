// Package api 提供維運用的 HTTP 端點
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/koopa0/typetrial/internal/race"
)

// Engine 查詢引擎狀態
type Engine interface {
	Stats() race.Stats
	Room(roomID string) (race.RoomState, bool)
}

// Connections 查詢目前的 WebSocket 連線數
type Connections interface {
	Count() int
}

// Check 依賴健康檢查，例如資料庫 Ping
type Check func(ctx context.Context) error

// Handler HTTP 請求處理器
type Handler struct {
	engine Engine
	conns  Connections
	checks map[string]Check
	logger *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(engine Engine, conns Connections, checks map[string]Check, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		conns:  conns,
		checks: checks,
		logger: logger.With("component", "api"),
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))
	mux.HandleFunc("GET /api/v1/rooms/{room_id}", wrap(h.getRoom))

	return mux
}

// health 健康檢查，任一依賴失敗回 503
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("健康檢查失敗", "dependency", name, "error", err)
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	h.jsonResponse(w, map[string]any{
		"status":       overall,
		"time":         time.Now().Unix(),
		"dependencies": deps,
	}, status)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.Stats()
	h.jsonResponse(w, map[string]any{
		"rooms":           stats.Rooms,
		"racing_rooms":    stats.RacingRooms,
		"connected_users": stats.ConnectedUsers,
		"connections":     h.conns.Count(),
	}, http.StatusOK)
}

// getRoom 房間快照
func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	state, ok := h.engine.Room(r.PathValue("room_id"))
	if !ok {
		h.errorResponse(w, "room not found", http.StatusNotFound)
		return
	}
	h.jsonResponse(w, state, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
