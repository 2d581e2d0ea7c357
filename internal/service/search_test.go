package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/bigkaa/dnasearch/internal/domain/model"
	"github.com/bigkaa/dnasearch/internal/engine"
	"github.com/bigkaa/dnasearch/internal/sequence"
	"github.com/bigkaa/dnasearch/internal/storage/filestore"
)

// --- Моки ---

// mockStore - мок SearchStore для unit-тестов.
type mockStore struct {
	saveInputsFn func(ctx context.Context, f *model.UploadedFile, samples []model.Sample) error
	saveRunFn    func(ctx context.Context, run *model.SearchRun, results []model.MatchResult) error

	inputsCalls int
	runCalls    int
}

func (m *mockStore) SaveInputs(ctx context.Context, f *model.UploadedFile, samples []model.Sample) error {
	m.inputsCalls++
	if m.saveInputsFn != nil {
		return m.saveInputsFn(ctx, f, samples)
	}
	f.ID = 10
	return nil
}

func (m *mockStore) SaveRun(ctx context.Context, run *model.SearchRun, results []model.MatchResult) error {
	m.runCalls++
	if m.saveRunFn != nil {
		return m.saveRunFn(ctx, run, results)
	}
	run.ID = 77
	return nil
}

// mockInvoker - мок engine.Invoker.
type mockInvoker struct {
	invokeFn func(ctx context.Context, samplesPath, pattern, code string) (*engine.Output, error)
	calls    int
}

func (m *mockInvoker) Invoke(ctx context.Context, samplesPath, pattern, code string) (*engine.Output, error) {
	m.calls++
	return m.invokeFn(ctx, samplesPath, pattern, code)
}

func okInvoker(suspects ...engine.Suspect) *mockInvoker {
	return &mockInvoker{invokeFn: func(context.Context, string, string, string) (*engine.Output, error) {
		return &engine.Output{Success: true, Message: "ok", ProcessingTimeMs: 12.4, Suspects: suspects}, nil
	}}
}

type testEnv struct {
	svc        *SearchService
	uploadsDir string
	inputsDir  string
	logs       *bytes.Buffer
}

func newTestService(t *testing.T, store SearchStore, invoker engine.Invoker, opts SearchOptions) *testEnv {
	t.Helper()
	uploadsDir := t.TempDir()
	inputsDir := t.TempDir()

	uploads, err := filestore.New(uploadsDir, "adn")
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	inputs, err := filestore.New(inputsDir, "input")
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	return &testEnv{
		svc:        NewSearchService(store, invoker, uploads, inputs, opts, logger),
		uploadsDir: uploadsDir,
		inputsDir:  inputsDir,
		logs:       logs,
	}
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	return len(entries)
}

func request(content string) SearchRequest {
	return SearchRequest{
		UserID:    "7",
		Pattern:   "atcg",
		Algorithm: "KMP",
		Filename:  "muestras.csv",
		Size:      int64(len(content)),
		File:      strings.NewReader(content),
	}
}

const validCSV = "Nombre,Secuencia\nAna,atcgatcg\nLuis,GGGG\nEva,TTATCG\n"

// --- Тесты ---

// TestSearch_Success проверяет полный проход конвейера.
func TestSearch_Success(t *testing.T) {
	store := &mockStore{}
	var savedSamples []model.Sample
	store.saveInputsFn = func(_ context.Context, f *model.UploadedFile, samples []model.Sample) error {
		if f.OriginalFilename != "muestras.csv" || f.UserID != "7" || f.Size == 0 || f.Checksum == "" {
			t.Errorf("неожиданная запись файла: %+v", f)
		}
		savedSamples = samples
		f.ID = 10
		return nil
	}
	var savedRun *model.SearchRun
	var savedResults []model.MatchResult
	store.saveRunFn = func(_ context.Context, run *model.SearchRun, results []model.MatchResult) error {
		savedRun = run
		savedResults = results
		run.ID = 77
		return nil
	}

	invoker := &mockInvoker{invokeFn: func(_ context.Context, path, pattern, code string) (*engine.Output, error) {
		if pattern != "ATCG" {
			t.Errorf("pattern = %q, ожидался ATCG", pattern)
		}
		if code != "KMP" {
			t.Errorf("code = %q, ожидался KMP", code)
		}
		// Движок получает нормализованный вход
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("вход движка не найден: %v", err)
		}
		want := "Nombre,Secuencia\nAna,ATCGATCG\nLuis,GGGG\nEva,TTATCG\n"
		if string(data) != want {
			t.Errorf("вход движка:\n%s\nожидалось:\n%s", data, want)
		}
		return &engine.Output{
			Success: true, Message: "Búsqueda completada", ProcessingTimeMs: 12.6,
			Suspects: []engine.Suspect{
				{Name: "Ana", MatchesCount: 2, Positions: []int{0, 4}},
				{Name: "Luis", MatchesCount: 0, Positions: []int{}},
				{Name: "Eva", MatchesCount: 1},
			},
		}, nil
	}}

	env := newTestService(t, store, invoker, SearchOptions{MaxUploadSize: 1024})
	resp, err := env.svc.Search(context.Background(), request(validCSV))
	if err != nil {
		t.Fatalf("Search() вернул ошибку: %v", err)
	}

	if len(savedSamples) != 3 {
		t.Errorf("сохранено образцов: %d, ожидалось 3", len(savedSamples))
	}
	if savedRun.FileID != 10 || savedRun.Algorithm != model.AlgorithmKMP {
		t.Errorf("неожиданный запуск: %+v", savedRun)
	}
	if savedRun.TotalSamples != 3 || savedRun.TotalMatches != 2 || savedRun.TotalOccurrences != 3 {
		t.Errorf("итоги запуска: %+v", savedRun)
	}
	if savedRun.EngineTimeMs != 13 {
		t.Errorf("EngineTimeMs = %d, ожидалось 13", savedRun.EngineTimeMs)
	}

	// Образцы без совпадений не сохраняются, порядок движка сохраняется
	if len(savedResults) != 2 {
		t.Fatalf("результатов: %d, ожидалось 2", len(savedResults))
	}
	if savedResults[0].SuspectName != "Ana" || savedResults[0].Ordinal != 0 || !savedResults[0].Exact {
		t.Errorf("первый результат: %+v", savedResults[0])
	}
	if savedResults[1].SuspectName != "Eva" || savedResults[1].Ordinal != 2 {
		t.Errorf("второй результат: %+v", savedResults[1])
	}
	if savedResults[1].Positions == nil || len(savedResults[1].Positions) != 0 {
		t.Errorf("отсутствующие позиции должны стать пустым списком: %v", savedResults[1].Positions)
	}
	if savedResults[0].Similarity != nil {
		t.Error("similarity должно быть nil")
	}

	if resp.RunID != 77 || resp.Pattern != "ATCG" || resp.TotalMatches != 2 || resp.TotalSamples != 3 {
		t.Errorf("неожиданный ответ: %+v", resp)
	}
	if resp.Message != "Búsqueda completada" || resp.ElapsedMs != 13 {
		t.Errorf("сообщение/время: %q / %d", resp.Message, resp.ElapsedMs)
	}

	// Загрузка и вход движка остаются на диске
	if countFiles(t, env.uploadsDir) != 1 {
		t.Error("загрузка должна сохраниться")
	}
	if countFiles(t, env.inputsDir) != 1 {
		t.Error("вход движка должен сохраниться")
	}
}

// TestSearch_RejectedBeforeStorage проверяет предусловия: ни записи на диск,
// ни обращений к БД и движку.
func TestSearch_RejectedBeforeStorage(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *SearchRequest)
	}{
		{"нет файла", func(r *SearchRequest) { r.File = nil }},
		{"пустой шаблон", func(r *SearchRequest) { r.Pattern = "  " }},
		{"шаблон с недопустимыми символами", func(r *SearchRequest) { r.Pattern = "ATXG" }},
		{"нет алгоритма", func(r *SearchRequest) { r.Algorithm = "" }},
		{"неизвестный алгоритм", func(r *SearchRequest) { r.Algorithm = "Boyer-Moore" }},
		{"алгоритм в другом регистре", func(r *SearchRequest) { r.Algorithm = "kmp" }},
		{"не CSV", func(r *SearchRequest) { r.Filename = "muestras.txt" }},
		{"Content-Type изображения", func(r *SearchRequest) { r.ContentType = "image/png" }},
		{"Content-Type JSON", func(r *SearchRequest) { r.ContentType = "application/json" }},
		{"некорректный Content-Type", func(r *SearchRequest) { r.ContentType = "text/" }},
		{"превышен размер", func(r *SearchRequest) { r.Size = 4096 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			invoker := okInvoker()
			env := newTestService(t, store, invoker, SearchOptions{MaxUploadSize: 1024})

			req := request(validCSV)
			tt.modify(&req)

			_, err := env.svc.Search(context.Background(), req)
			if KindOf(err) != KindValidation {
				t.Fatalf("ожидалась ValidationError, получено %v", err)
			}
			if store.inputsCalls != 0 || invoker.calls != 0 {
				t.Error("при отказе по предусловиям не должно быть обращений к БД и движку")
			}
			if countFiles(t, env.uploadsDir) != 0 {
				t.Error("при отказе по предусловиям загрузка не должна сохраняться")
			}
			if !strings.Contains(env.logs.String(), "validating → aborted") {
				t.Errorf("в логе отказа нет истории переходов: %s", env.logs.String())
			}
		})
	}
}

// TestSearch_AcceptedCSVContentTypes проверяет типы, с которыми клиенты отправляют CSV.
func TestSearch_AcceptedCSVContentTypes(t *testing.T) {
	for _, ct := range []string{"", "text/csv", "text/csv; charset=utf-8", "application/vnd.ms-excel", "application/octet-stream"} {
		t.Run(ct, func(t *testing.T) {
			env := newTestService(t, &mockStore{}, okInvoker(), SearchOptions{MaxUploadSize: 1024})

			req := request(validCSV)
			req.ContentType = ct

			if _, err := env.svc.Search(context.Background(), req); err != nil {
				t.Fatalf("Content-Type %q должен приниматься: %v", ct, err)
			}
		})
	}
}

// TestSearch_UploadTooLarge проверяет ограничение размера при фактическом чтении.
func TestSearch_UploadTooLarge(t *testing.T) {
	env := newTestService(t, &mockStore{}, okInvoker(), SearchOptions{MaxUploadSize: 16})

	req := request(validCSV)
	req.Size = -1

	_, err := env.svc.Search(context.Background(), req)
	if KindOf(err) != KindValidation || !errors.Is(err, filestore.ErrTooLarge) {
		t.Fatalf("ожидалась ValidationError с ErrTooLarge, получено %v", err)
	}
	if countFiles(t, env.uploadsDir) != 0 {
		t.Error("частичная загрузка не должна оставаться на диске")
	}
}

// TestSearch_LenientWarnings проверяет пропуск плохих строк в мягком режиме.
func TestSearch_LenientWarnings(t *testing.T) {
	store := &mockStore{}
	var savedSamples []model.Sample
	store.saveInputsFn = func(_ context.Context, f *model.UploadedFile, samples []model.Sample) error {
		savedSamples = samples
		return nil
	}
	env := newTestService(t, store, okInvoker(engine.Suspect{Name: "Ana", MatchesCount: 1}), SearchOptions{})

	resp, err := env.svc.Search(context.Background(),
		request("Nombre,Secuencia\nAna,ATCG\nBad,ATXG\n,ACGT\n"))
	if err != nil {
		t.Fatalf("Search() вернул ошибку: %v", err)
	}
	if len(savedSamples) != 1 {
		t.Errorf("сохранено образцов: %d, ожидался 1", len(savedSamples))
	}
	if len(resp.Warnings) != 2 || resp.Warnings[0].Row != 3 || resp.Warnings[1].Row != 4 {
		t.Errorf("неожиданные предупреждения: %+v", resp.Warnings)
	}
}

// TestSearch_StrictValidation проверяет строгий режим: строка ошибки и удаление загрузки.
func TestSearch_StrictValidation(t *testing.T) {
	store := &mockStore{}
	env := newTestService(t, store, okInvoker(), SearchOptions{Mode: sequence.Strict})

	_, err := env.svc.Search(context.Background(),
		request("Nombre,Secuencia\nAna,ATCG\nBad,ATXG\n"))

	var se *SearchError
	if !errors.As(err, &se) || se.Kind != KindValidation {
		t.Fatalf("ожидалась ValidationError, получено %v", err)
	}
	if se.Row != 3 {
		t.Errorf("Row = %d, ожидалось 3", se.Row)
	}
	if store.inputsCalls != 0 {
		t.Error("при ошибке валидации ничего не должно сохраняться в БД")
	}
	if countFiles(t, env.uploadsDir) != 0 {
		t.Error("загрузка должна быть удалена")
	}
}

// TestSearch_NoValidSamples проверяет файл без корректных образцов.
func TestSearch_NoValidSamples(t *testing.T) {
	store := &mockStore{}
	invoker := okInvoker()
	env := newTestService(t, store, invoker, SearchOptions{})

	_, err := env.svc.Search(context.Background(), request("Nombre,Secuencia\nBad,XXXX\n"))
	if KindOf(err) != KindNoValidSamples {
		t.Fatalf("ожидалась NoValidSamples, получено %v", err)
	}
	if store.inputsCalls != 0 || invoker.calls != 0 {
		t.Error("не должно быть обращений к БД и движку")
	}
	if countFiles(t, env.uploadsDir) != 0 {
		t.Error("загрузка должна быть удалена")
	}
}

// TestSearch_SaveInputsFails проверяет, что движок не запускается без записи входных данных.
func TestSearch_SaveInputsFails(t *testing.T) {
	store := &mockStore{saveInputsFn: func(context.Context, *model.UploadedFile, []model.Sample) error {
		return errors.New("connection refused")
	}}
	invoker := okInvoker()
	env := newTestService(t, store, invoker, SearchOptions{})

	_, err := env.svc.Search(context.Background(), request(validCSV))
	if KindOf(err) != KindStorage {
		t.Fatalf("ожидалась StorageError, получено %v", err)
	}
	if invoker.calls != 0 {
		t.Error("движок не должен запускаться")
	}
	if countFiles(t, env.uploadsDir) != 0 {
		t.Error("загрузка должна быть удалена")
	}
}

// TestSearch_EngineFailures проверяет перевод ошибок движка.
// После записи входных данных загрузка сохраняется для аудита.
func TestSearch_EngineFailures(t *testing.T) {
	tests := []struct {
		name           string
		out            *engine.Output
		err            error
		wantKind       ErrorKind
		wantMessage    string
		wantDiagnostic string
	}{
		{
			name:     "таймаут",
			err:      &engine.Error{Kind: engine.KindTimeout, Message: "движок превысил лимит времени"},
			wantKind: KindEngineTimeout,
		},
		{
			name:           "ненулевой код",
			err:            &engine.Error{Kind: engine.KindExecution, Message: "код 3", ExitCode: 3, Stderr: "boom"},
			wantKind:       KindEngineExecution,
			wantDiagnostic: "boom",
		},
		{
			name:           "некорректный JSON",
			err:            &engine.Error{Kind: engine.KindOutput, Message: "не JSON", RawOutput: "{oops"},
			wantKind:       KindEngineOutput,
			wantDiagnostic: "{oops",
		},
		{
			name:        "движок сообщил об отказе",
			out:         &engine.Output{Success: false, Message: "Algoritmo no soportado"},
			wantKind:    KindEngineExecution,
			wantMessage: "Algoritmo no soportado",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			invoker := &mockInvoker{invokeFn: func(context.Context, string, string, string) (*engine.Output, error) {
				return tt.out, tt.err
			}}
			env := newTestService(t, store, invoker, SearchOptions{})

			_, err := env.svc.Search(context.Background(), request(validCSV))

			var se *SearchError
			if !errors.As(err, &se) {
				t.Fatalf("ожидалась SearchError, получено %v", err)
			}
			if se.Kind != tt.wantKind {
				t.Errorf("Kind = %s, ожидался %s", se.Kind, tt.wantKind)
			}
			if tt.wantMessage != "" && se.Message != tt.wantMessage {
				t.Errorf("Message = %q, ожидалось %q", se.Message, tt.wantMessage)
			}
			if se.Diagnostic != tt.wantDiagnostic {
				t.Errorf("Diagnostic = %q, ожидалось %q", se.Diagnostic, tt.wantDiagnostic)
			}
			if store.runCalls != 0 {
				t.Error("запуск не должен сохраняться при отказе движка")
			}
			if countFiles(t, env.uploadsDir) != 1 {
				t.Error("загрузка должна сохраниться после записи входных данных")
			}
			if !strings.Contains(env.logs.String(), "validating → persisting_inputs → invoking → aborted") {
				t.Errorf("в логе сбоя нет истории переходов: %s", env.logs.String())
			}
		})
	}
}

// TestSearch_SaveRunFails проверяет ошибку записи результатов.
func TestSearch_SaveRunFails(t *testing.T) {
	store := &mockStore{saveRunFn: func(context.Context, *model.SearchRun, []model.MatchResult) error {
		return errors.New("deadlock detected")
	}}
	env := newTestService(t, store, okInvoker(engine.Suspect{Name: "Ana", MatchesCount: 1, Positions: []int{0}}),
		SearchOptions{})

	_, err := env.svc.Search(context.Background(), request(validCSV))
	if KindOf(err) != KindStorage {
		t.Fatalf("ожидалась StorageError, получено %v", err)
	}
	if countFiles(t, env.uploadsDir) != 1 {
		t.Error("загрузка должна сохраниться")
	}
}

// TestSearch_IgnoresClientCancel проверяет, что отмена запроса клиентом
// не прерывает конвейер.
func TestSearch_IgnoresClientCancel(t *testing.T) {
	invoker := &mockInvoker{invokeFn: func(ctx context.Context, _, _, _ string) (*engine.Output, error) {
		if ctx.Err() != nil {
			t.Errorf("контекст движка отменён: %v", ctx.Err())
		}
		return &engine.Output{Success: true}, nil
	}}
	store := &mockStore{}
	env := newTestService(t, store, invoker, SearchOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.svc.Search(ctx, request(validCSV)); err != nil {
		t.Fatalf("Search() вернул ошибку: %v", err)
	}
	if store.runCalls != 1 {
		t.Error("запуск должен быть сохранён")
	}
}

// TestSearch_CleanupInputs проверяет удаление входа движка.
func TestSearch_CleanupInputs(t *testing.T) {
	env := newTestService(t, &mockStore{}, okInvoker(), SearchOptions{CleanupInputs: true})

	if _, err := env.svc.Search(context.Background(), request(validCSV)); err != nil {
		t.Fatalf("Search() вернул ошибку: %v", err)
	}
	if countFiles(t, env.inputsDir) != 0 {
		t.Error("вход движка должен быть удалён")
	}
}
