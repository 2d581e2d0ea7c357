// handler.go - основной обработчик API.
// Объединяет health и обработчики поиска, регистрирует маршруты в chi.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/dnasearch/internal/domain/model"
	"github.com/bigkaa/dnasearch/internal/service"
)

// SearchRunner - конвейер поиска.
type SearchRunner interface {
	Search(ctx context.Context, req service.SearchRequest) (*service.SearchResponse, error)
}

// HistoryReader - чтение истории поиска.
type HistoryReader interface {
	ListRuns(ctx context.Context, userID string) ([]model.RunSummary, error)
	GetRun(ctx context.Context, userID string, runID int64) (*model.RunDetail, error)
}

// APIHandler - основной обработчик API.
type APIHandler struct {
	health        *HealthHandler
	search        SearchRunner
	history       HistoryReader
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize - предельный размер CSV; тело запроса ограничивается
// этим размером с запасом на multipart-обвязку.
func NewAPIHandler(
	health *HealthHandler,
	search SearchRunner,
	history HistoryReader,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		search:        search,
		history:       history,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// Register регистрирует маршруты.
func (h *APIHandler) Register(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)
	r.Get("/api/health", h.health.LegacyHealth)

	r.Route("/api/busqueda", func(r chi.Router) {
		r.Post("/", h.CreateSearch)
		r.Get("/historial", h.ListHistory)
		r.Get("/{id}", h.GetSearch)
	})
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
