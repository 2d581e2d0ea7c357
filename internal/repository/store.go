package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/dnasearch/internal/domain/model"
)

// Store объединяет репозитории и транзакции для конвейера поиска.
// Входные данные (файл + образцы) и выходные (запуск + результаты)
// сохраняются каждый одной транзакцией.
type Store struct {
	tx       *TxRunner
	files    FileRepository
	searches SearchRepository
}

// NewStore создаёт Store поверх пула соединений.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		tx:       NewTxRunner(pool),
		files:    NewFileRepository(pool),
		searches: NewSearchRepository(pool),
	}
}

// SaveInputs сохраняет файл и все его образцы в одной транзакции.
// Заполняет f.ID, f.CreatedAt и FileID образцов.
func (s *Store) SaveInputs(ctx context.Context, f *model.UploadedFile, samples []model.Sample) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		files := NewFileRepository(tx)
		if err := files.Create(ctx, f); err != nil {
			return err
		}

		n, err := files.InsertSamples(ctx, f.ID, samples)
		if err != nil {
			return err
		}
		if int(n) != len(samples) {
			return fmt.Errorf("сохранено %d образцов из %d", n, len(samples))
		}

		for i := range samples {
			samples[i].FileID = f.ID
		}
		return nil
	})
}

// SaveRun сохраняет запуск и все его результаты в одной транзакции.
// Читатель никогда не видит запуск без результатов.
func (s *Store) SaveRun(ctx context.Context, run *model.SearchRun, results []model.MatchResult) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		searches := NewSearchRepository(tx)
		if err := searches.CreateRun(ctx, run); err != nil {
			return err
		}

		for i := range results {
			results[i].RunID = run.ID
		}
		return searches.InsertResults(ctx, run.ID, results)
	})
}

// ListRuns возвращает историю пользователя.
func (s *Store) ListRuns(ctx context.Context, userID string) ([]model.RunSummary, error) {
	return s.searches.ListByUser(ctx, userID)
}

// GetRun возвращает запуск пользователя с результатами.
// ErrNotFound, если запуска нет или он чужой.
func (s *Store) GetRun(ctx context.Context, userID string, runID int64) (*model.RunDetail, error) {
	summary, err := s.searches.GetByUser(ctx, userID, runID)
	if err != nil {
		return nil, err
	}

	results, err := s.searches.ListResults(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &model.RunDetail{
		Run:      summary.SearchRun,
		FileName: summary.FileName,
		Results:  results,
	}, nil
}
