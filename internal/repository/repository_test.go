package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/dnasearch/internal/config"
	"github.com/bigkaa/dnasearch/internal/database"
	"github.com/bigkaa/dnasearch/internal/domain/model"
)

// setupTestDB запускает PostgreSQL в контейнере и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("dnasearch_test"),
		postgres.WithUsername("dnasearch"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("DS_DB_HOST", host)
	t.Setenv("DS_DB_PORT", port.Port())
	t.Setenv("DS_DB_NAME", "dnasearch_test")
	t.Setenv("DS_DB_USER", "dnasearch")
	t.Setenv("DS_DB_PASSWORD", "test-password")
	t.Setenv("DS_DB_SSL_MODE", "disable")

	cfg, err := config.LoadDatabase()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграции: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

func saveFile(t *testing.T, store *Store, userID string, samples []model.Sample) *model.UploadedFile {
	t.Helper()
	f := &model.UploadedFile{
		OriginalFilename: "muestras.csv",
		StoragePath:      "adn_" + userID + ".csv",
		Size:             42,
		Checksum:         "abc",
		UserID:           userID,
	}
	if err := store.SaveInputs(context.Background(), f, samples); err != nil {
		t.Fatalf("SaveInputs() вернул ошибку: %v", err)
	}
	return f
}

// listSamples читает образцы файла в порядке строк.
func listSamples(t *testing.T, db DBTX, fileID int64) []model.Sample {
	t.Helper()

	rows, err := db.Query(context.Background(), `
		SELECT id, file_id, row_number, suspect_name, sequence
		FROM samples
		WHERE file_id = $1
		ORDER BY row_number, id`, fileID)
	if err != nil {
		t.Fatalf("ошибка получения образцов: %v", err)
	}
	defer rows.Close()

	var samples []model.Sample
	for rows.Next() {
		var s model.Sample
		var row int32
		if err := rows.Scan(&s.ID, &s.FileID, &row, &s.Name, &s.Sequence); err != nil {
			t.Fatalf("ошибка чтения образца: %v", err)
		}
		s.Row = int(row)
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("ошибка итерации образцов: %v", err)
	}
	return samples
}

// TestSaveInputs проверяет сохранение файла вместе с образцами.
func TestSaveInputs(t *testing.T) {
	pool := setupTestDB(t)
	store := NewStore(pool)

	samples := []model.Sample{
		{Row: 2, Name: "Ana", Sequence: "ATCG"},
		{Row: 4, Name: "Luis", Sequence: "GGCC"},
	}
	f := saveFile(t, store, "u1", samples)

	if f.ID == 0 {
		t.Fatal("ожидался ненулевой ID файла")
	}
	if f.CreatedAt.IsZero() {
		t.Error("ожидалось заполненное CreatedAt")
	}
	for _, s := range samples {
		if s.FileID != f.ID {
			t.Errorf("образец %s: FileID = %d, ожидалось %d", s.Name, s.FileID, f.ID)
		}
	}

	got := listSamples(t, pool, f.ID)
	if len(got) != 2 || got[0].Name != "Ana" || got[1].Row != 4 {
		t.Errorf("неожиданные образцы: %+v", got)
	}
}

// TestSaveInputs_Atomic проверяет откат файла при ошибке вставки образцов.
func TestSaveInputs_Atomic(t *testing.T) {
	pool := setupTestDB(t)
	store := NewStore(pool)
	ctx := context.Background()

	f := &model.UploadedFile{OriginalFilename: "bad.csv", StoragePath: "bad", UserID: "u1"}
	// Последовательность нарушает CHECK ~ '^[ACGT]+$'
	samples := []model.Sample{{Row: 2, Name: "Ana", Sequence: "ATXG"}}

	if err := store.SaveInputs(ctx, f, samples); err == nil {
		t.Fatal("ожидалась ошибка сохранения")
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM uploaded_files`).Scan(&count); err != nil {
		t.Fatalf("ошибка подсчёта: %v", err)
	}
	if count != 0 {
		t.Errorf("после отката ожидалось 0 файлов, найдено %d", count)
	}
}

// TestSaveRun_GetRun проверяет сохранение запуска и чтение с результатами.
func TestSaveRun_GetRun(t *testing.T) {
	pool := setupTestDB(t)
	store := NewStore(pool)
	ctx := context.Background()

	f := saveFile(t, store, "u1", []model.Sample{{Row: 2, Name: "Ana", Sequence: "ATCGATCG"}})

	run := &model.SearchRun{
		Pattern:          "ATCG",
		Algorithm:        model.AlgorithmKMP,
		UserID:           "u1",
		FileID:           f.ID,
		TotalSamples:     2,
		TotalMatches:     2,
		TotalOccurrences: 3,
		EngineTimeMs:     7,
		EngineMessage:    "ok",
	}
	results := []model.MatchResult{
		{Ordinal: 0, SuspectName: "Ana", Exact: true, Positions: []int{0, 4}, MatchCount: 2},
		{Ordinal: 2, SuspectName: "Eva", Exact: true, Positions: nil, MatchCount: 1},
	}
	if err := store.SaveRun(ctx, run, results); err != nil {
		t.Fatalf("SaveRun() вернул ошибку: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("ожидался ненулевой ID запуска")
	}

	detail, err := store.GetRun(ctx, "u1", run.ID)
	if err != nil {
		t.Fatalf("GetRun() вернул ошибку: %v", err)
	}
	if detail.FileName != "muestras.csv" {
		t.Errorf("FileName = %q", detail.FileName)
	}
	if detail.Run.Algorithm != model.AlgorithmKMP || detail.Run.TotalOccurrences != 3 {
		t.Errorf("неожиданный запуск: %+v", detail.Run)
	}
	if len(detail.Results) != 2 {
		t.Fatalf("ожидалось 2 результата, получено %d", len(detail.Results))
	}
	first := detail.Results[0]
	if first.SuspectName != "Ana" || len(first.Positions) != 2 || first.Positions[1] != 4 {
		t.Errorf("неожиданный первый результат: %+v", first)
	}
	if first.Similarity != nil {
		t.Error("similarity должно быть NULL")
	}
	if detail.Results[1].Ordinal != 2 || len(detail.Results[1].Positions) != 0 {
		t.Errorf("неожиданный второй результат: %+v", detail.Results[1])
	}

	// Чужой запуск не виден
	if _, err := store.GetRun(ctx, "u2", run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound для чужого запуска, получено %v", err)
	}
	if _, err := store.GetRun(ctx, "u1", run.ID+1000); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound для несуществующего запуска, получено %v", err)
	}
}

// TestSaveRun_Atomic проверяет, что запуск не сохраняется без результатов.
func TestSaveRun_Atomic(t *testing.T) {
	pool := setupTestDB(t)
	store := NewStore(pool)
	ctx := context.Background()

	f := saveFile(t, store, "u1", []model.Sample{{Row: 2, Name: "Ana", Sequence: "ATCG"}})

	run := &model.SearchRun{Pattern: "ATCG", Algorithm: model.AlgorithmKMP, UserID: "u1", FileID: f.ID}
	// Количество не совпадает с позициями - нарушение CHECK
	results := []model.MatchResult{{SuspectName: "Ana", Exact: true, Positions: []int{0}, MatchCount: 3}}

	if err := store.SaveRun(ctx, run, results); err == nil {
		t.Fatal("ожидалась ошибка сохранения")
	}

	runs, err := store.ListRuns(ctx, "u1")
	if err != nil {
		t.Fatalf("ListRuns() вернул ошибку: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("после отката ожидалось 0 запусков, найдено %d", len(runs))
	}
}

// TestListRuns проверяет порядок истории и подсчёт результатов.
func TestListRuns(t *testing.T) {
	pool := setupTestDB(t)
	store := NewStore(pool)
	ctx := context.Background()

	f := saveFile(t, store, "u1", []model.Sample{{Row: 2, Name: "Ana", Sequence: "ATCG"}})
	other := saveFile(t, store, "u2", []model.Sample{{Row: 2, Name: "Eva", Sequence: "ATCG"}})

	var ids []int64
	for i, n := range []int{1, 0, 2} {
		run := &model.SearchRun{Pattern: "AT", Algorithm: model.AlgorithmRabinKarp, UserID: "u1", FileID: f.ID}
		var results []model.MatchResult
		for j := 0; j < n; j++ {
			results = append(results, model.MatchResult{Ordinal: j, SuspectName: "Ana", Exact: true, MatchCount: 1})
		}
		if err := store.SaveRun(ctx, run, results); err != nil {
			t.Fatalf("SaveRun(%d) вернул ошибку: %v", i, err)
		}
		ids = append(ids, run.ID)
	}
	if err := store.SaveRun(ctx, &model.SearchRun{
		Pattern: "AT", Algorithm: model.AlgorithmKMP, UserID: "u2", FileID: other.ID,
	}, nil); err != nil {
		t.Fatalf("SaveRun(u2) вернул ошибку: %v", err)
	}

	runs, err := store.ListRuns(ctx, "u1")
	if err != nil {
		t.Fatalf("ListRuns() вернул ошибку: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("ожидалось 3 запуска, получено %d", len(runs))
	}

	// Новые первыми, при равном времени - по убыванию id
	wantIDs := []int64{ids[2], ids[1], ids[0]}
	wantCounts := []int{2, 0, 1}
	for i, r := range runs {
		if r.ID != wantIDs[i] {
			t.Errorf("позиция %d: id = %d, ожидалось %d", i, r.ID, wantIDs[i])
		}
		if r.ResultCount != wantCounts[i] {
			t.Errorf("позиция %d: ResultCount = %d, ожидалось %d", i, r.ResultCount, wantCounts[i])
		}
		if r.FileName != "muestras.csv" || r.UserID != "u1" {
			t.Errorf("позиция %d: неожиданная строка %+v", i, r)
		}
	}

	empty, err := store.ListRuns(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListRuns() вернул ошибку: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("ожидался пустой список, не nil, получено %v", empty)
	}
}
