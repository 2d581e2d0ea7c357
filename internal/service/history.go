// history.go - история поиска пользователя.
// Детали запуска кэшируются в LRU с TTL: запуски и результаты
// после записи не изменяются, поэтому инвалидация не нужна.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dnasearch/internal/domain/model"
	"github.com/bigkaa/dnasearch/internal/repository"
)

// Prometheus-метрики кэша истории.
var (
	historyCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ds_history_cache_hits_total",
		Help: "Общее количество попаданий в кэш деталей поиска.",
	})
	historyCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ds_history_cache_misses_total",
		Help: "Общее количество промахов кэша деталей поиска.",
	})
)

// HistoryStore - чтение истории поиска.
type HistoryStore interface {
	ListRuns(ctx context.Context, userID string) ([]model.RunSummary, error)
	GetRun(ctx context.Context, userID string, runID int64) (*model.RunDetail, error)
}

// runKey - ключ кэша: запуск виден только своему владельцу.
type runKey struct {
	userID string
	runID  int64
}

// HistoryService - история поиска с кэшем деталей.
type HistoryService struct {
	store  HistoryStore
	cache  *expirable.LRU[runKey, *model.RunDetail]
	logger *slog.Logger
}

// NewHistoryService создаёт сервис истории.
// maxSize - максимальное количество запусков в кэше, ttl - время жизни записи.
func NewHistoryService(store HistoryStore, maxSize int, ttl time.Duration, logger *slog.Logger) *HistoryService {
	return &HistoryService{
		store:  store,
		cache:  expirable.NewLRU[runKey, *model.RunDetail](maxSize, nil, ttl),
		logger: logger.With(slog.String("component", "history_service")),
	}
}

// ListRuns возвращает все запуски пользователя, новые первыми.
// Список не кэшируется: новые запуски должны появляться сразу.
func (h *HistoryService) ListRuns(ctx context.Context, userID string) ([]model.RunSummary, error) {
	runs, err := h.store.ListRuns(ctx, userID)
	if err != nil {
		h.logger.Error("Ошибка получения истории",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, newError(KindStorage, "не удалось получить историю поиска", err)
	}
	return runs, nil
}

// GetRun возвращает запуск пользователя с результатами.
// Чужой или несуществующий запуск - NotFound.
func (h *HistoryService) GetRun(ctx context.Context, userID string, runID int64) (*model.RunDetail, error) {
	key := runKey{userID: userID, runID: runID}
	if detail, ok := h.cache.Get(key); ok {
		historyCacheHits.Inc()
		return detail, nil
	}
	historyCacheMisses.Inc()

	detail, err := h.store.GetRun(ctx, userID, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, "поиск не найден", err)
		}
		h.logger.Error("Ошибка получения поиска",
			slog.String("user_id", userID),
			slog.Int64("run_id", runID),
			slog.String("error", err.Error()),
		)
		return nil, newError(KindStorage, "не удалось получить поиск", err)
	}

	h.cache.Add(key, detail)
	return detail, nil
}
