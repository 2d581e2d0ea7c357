package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/dnasearch/internal/domain/model"
)

// SearchRepository - запуски поиска и их результаты.
// Только вставка и чтение.
type SearchRepository interface {
	// CreateRun сохраняет запуск, заполняя ID и CreatedAt.
	CreateRun(ctx context.Context, run *model.SearchRun) error
	// InsertResults сохраняет результаты запуска в порядке выдачи движка.
	InsertResults(ctx context.Context, runID int64, results []model.MatchResult) error
	// ListByUser возвращает запуски пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string) ([]model.RunSummary, error)
	// GetByUser возвращает запуск, только если он принадлежит пользователю.
	GetByUser(ctx context.Context, userID string, runID int64) (*model.RunSummary, error)
	// ListResults возвращает результаты запуска по порядку.
	ListResults(ctx context.Context, runID int64) ([]model.MatchResult, error)
}

type searchRepo struct {
	db DBTX
}

// NewSearchRepository создаёт репозиторий запусков поиска.
func NewSearchRepository(db DBTX) SearchRepository {
	return &searchRepo{db: db}
}

const runSummaryColumns = `
	r.id, r.pattern, r.algorithm, r.user_id, r.file_id, r.created_at,
	r.total_samples, r.total_matches, r.total_occurrences,
	r.engine_time_ms, r.engine_message,
	f.original_filename,
	(SELECT COUNT(*) FROM match_results m WHERE m.run_id = r.id)`

func (r *searchRepo) CreateRun(ctx context.Context, run *model.SearchRun) error {
	query := `
		INSERT INTO search_runs (
			pattern, algorithm, user_id, file_id,
			total_samples, total_matches, total_occurrences,
			engine_time_ms, engine_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		run.Pattern, string(run.Algorithm), run.UserID, run.FileID,
		run.TotalSamples, run.TotalMatches, run.TotalOccurrences,
		run.EngineTimeMs, run.EngineMessage,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения запуска: %w", err)
	}
	return nil
}

func (r *searchRepo) InsertResults(ctx context.Context, runID int64, results []model.MatchResult) error {
	if len(results) == 0 {
		return nil
	}

	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"match_results"},
		[]string{"run_id", "ordinal", "suspect_name", "exact", "similarity", "positions", "match_count"},
		pgx.CopyFromSlice(len(results), func(i int) ([]any, error) {
			m := results[i]
			return []any{
				runID, int32(m.Ordinal), m.SuspectName, m.Exact,
				m.Similarity, toInt32(m.Positions), int32(m.MatchCount),
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения результатов: %w", err)
	}
	return nil
}

func (r *searchRepo) ListByUser(ctx context.Context, userID string) ([]model.RunSummary, error) {
	query := `SELECT ` + runSummaryColumns + `
		FROM search_runs r
		JOIN uploaded_files f ON f.id = r.file_id
		WHERE r.user_id = $1
		ORDER BY r.created_at DESC, r.id DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	defer rows.Close()

	runs := make([]model.RunSummary, 0)
	for rows.Next() {
		s, err := scanRunSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения запуска: %w", err)
		}
		runs = append(runs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации истории: %w", err)
	}
	return runs, nil
}

func (r *searchRepo) GetByUser(ctx context.Context, userID string, runID int64) (*model.RunSummary, error) {
	query := `SELECT ` + runSummaryColumns + `
		FROM search_runs r
		JOIN uploaded_files f ON f.id = r.file_id
		WHERE r.id = $1 AND r.user_id = $2`

	s, err := scanRunSummary(r.db.QueryRow(ctx, query, runID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения запуска: %w", err)
	}
	return s, nil
}

func (r *searchRepo) ListResults(ctx context.Context, runID int64) ([]model.MatchResult, error) {
	query := `
		SELECT id, run_id, ordinal, suspect_name, exact, similarity, positions, match_count
		FROM match_results
		WHERE run_id = $1
		ORDER BY ordinal`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения результатов: %w", err)
	}
	defer rows.Close()

	results := make([]model.MatchResult, 0)
	for rows.Next() {
		var m model.MatchResult
		var ordinal, count int32
		var positions []int32
		if err := rows.Scan(&m.ID, &m.RunID, &ordinal, &m.SuspectName, &m.Exact,
			&m.Similarity, &positions, &count); err != nil {
			return nil, fmt.Errorf("ошибка чтения результата: %w", err)
		}
		m.Ordinal = int(ordinal)
		m.MatchCount = int(count)
		m.Positions = fromInt32(positions)
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return results, nil
}

// scanRunSummary сканирует строку с колонками runSummaryColumns.
func scanRunSummary(row pgx.Row) (*model.RunSummary, error) {
	var s model.RunSummary
	var algorithm string
	var totalSamples, totalMatches, totalOccurrences int32
	var resultCount int64

	err := row.Scan(
		&s.ID, &s.Pattern, &algorithm, &s.UserID, &s.FileID, &s.CreatedAt,
		&totalSamples, &totalMatches, &totalOccurrences,
		&s.EngineTimeMs, &s.EngineMessage,
		&s.FileName, &resultCount,
	)
	if err != nil {
		return nil, err
	}

	s.Algorithm = model.Algorithm(algorithm)
	s.TotalSamples = int(totalSamples)
	s.TotalMatches = int(totalMatches)
	s.TotalOccurrences = int(totalOccurrences)
	s.ResultCount = int(resultCount)
	return &s, nil
}
