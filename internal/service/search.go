// search.go - конвейер одного запроса на поиск.
//
// Порядок шагов фиксирован конечным автоматом pipeline:
// проверка CSV → запись файла и образцов → движок → запись запуска и результатов.
// Движок не запускается, пока входные данные не зафиксированы в БД.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dnasearch/internal/domain/model"
	"github.com/bigkaa/dnasearch/internal/domain/pipeline"
	"github.com/bigkaa/dnasearch/internal/engine"
	"github.com/bigkaa/dnasearch/internal/sequence"
	"github.com/bigkaa/dnasearch/internal/storage/filestore"
)

// Prometheus-метрики конвейера.
var (
	searchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ds_search_total",
		Help: "Количество запросов на поиск по итогу (success или вид ошибки).",
	}, []string{"outcome"})
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ds_search_duration_seconds",
		Help:    "Полное время обработки запроса на поиск.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
)

var patternRe = regexp.MustCompile(`^[ACGTacgt]+$`)

// SearchStore - запись входных и выходных данных конвейера.
// Каждый метод выполняется одной транзакцией.
type SearchStore interface {
	SaveInputs(ctx context.Context, f *model.UploadedFile, samples []model.Sample) error
	SaveRun(ctx context.Context, run *model.SearchRun, results []model.MatchResult) error
}

// SearchOptions - параметры конвейера.
type SearchOptions struct {
	// Mode - режим проверки CSV
	Mode sequence.Mode
	// MaxUploadSize - предельный размер загрузки в байтах
	MaxUploadSize int64
	// MaxLineSize - предельная длина строки CSV (0 - по умолчанию)
	MaxLineSize int
	// CleanupInputs - удалять входной CSV движка после запуска
	CleanupInputs bool
}

// SearchRequest - параметры одного запроса.
type SearchRequest struct {
	UserID    string
	Pattern   string
	Algorithm string
	// Filename - исходное имя загруженного файла
	Filename string
	// ContentType - Content-Type части multipart (пусто, если не передан)
	ContentType string
	// Size - заявленный размер файла (-1, если неизвестен)
	Size int64
	// File - содержимое; nil, если файл не передан
	File io.Reader
}

// SearchResponse - итог успешного запуска.
type SearchResponse struct {
	RunID     int64
	Pattern   string
	Algorithm model.Algorithm
	// TotalSamples - количество образцов, переданных движку
	TotalSamples int
	// TotalMatches - количество образцов хотя бы с одним совпадением
	TotalMatches int
	// Results - сохранённые результаты (только с совпадениями)
	Results []model.MatchResult
	// ElapsedMs - время работы движка по его отчёту
	ElapsedMs int64
	Message   string
	Warnings  []sequence.Warning
}

// SearchService - координатор запроса на поиск.
type SearchService struct {
	store   SearchStore
	invoker engine.Invoker
	uploads *filestore.FileStore
	inputs  *filestore.FileStore
	opts    SearchOptions
	logger  *slog.Logger
}

// NewSearchService создаёт координатор.
// uploads - каталог загруженных CSV, inputs - каталог входных файлов движка.
func NewSearchService(
	store SearchStore,
	invoker engine.Invoker,
	uploads *filestore.FileStore,
	inputs *filestore.FileStore,
	opts SearchOptions,
	logger *slog.Logger,
) *SearchService {
	return &SearchService{
		store:   store,
		invoker: invoker,
		uploads: uploads,
		inputs:  inputs,
		opts:    opts,
		logger:  logger.With(slog.String("component", "search_service")),
	}
}

// run - состояние одного запроса.
type run struct {
	sm     *pipeline.StateMachine
	log    *slog.Logger
	upload string
}

// Search выполняет конвейер поиска.
// Отмена ctx клиентом не прерывает конвейер: ограничением служит только
// таймаут движка.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	r := &run{
		sm:  pipeline.New(),
		log: s.logger.With(slog.String("user_id", req.UserID)),
	}

	resp, err := s.execute(ctx, r, req)
	searchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.abort(r, err)
		return nil, err
	}

	searchTotal.WithLabelValues("success").Inc()
	r.log.Info("Поиск завершён",
		slog.Int64("run_id", resp.RunID),
		slog.String("algorithm", string(resp.Algorithm)),
		slog.Int("total_samples", resp.TotalSamples),
		slog.Int("total_matches", resp.TotalMatches),
		slog.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

func (s *SearchService) execute(ctx context.Context, r *run, req SearchRequest) (*SearchResponse, error) {
	// 1. Предусловия: до записи на диск и запуска процесса
	pattern, algorithm, err := s.checkRequest(req)
	if err != nil {
		return nil, err
	}
	r.log = r.log.With(slog.String("algorithm", string(algorithm)))

	// 2. Сохранение загрузки
	saved, err := s.uploads.Save(req.File, req.Filename, req.UserID, s.opts.MaxUploadSize)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			return nil, newError(KindValidation,
				fmt.Sprintf("файл превышает допустимый размер %d байт", s.opts.MaxUploadSize), err)
		}
		return nil, newError(KindStorage, "не удалось сохранить загруженный файл", err)
	}
	r.upload = saved.StoragePath

	// 3. Проверка CSV
	var parseOpts []sequence.Option
	if s.opts.MaxLineSize > 0 {
		parseOpts = append(parseOpts, sequence.WithMaxLineSize(s.opts.MaxLineSize))
	}
	parsed, err := sequence.ParseFile(saved.FullPath, s.opts.Mode, parseOpts...)
	if err != nil {
		var ve *sequence.ValidationError
		if errors.As(err, &ve) {
			return nil, &SearchError{Kind: KindValidation, Message: ve.Error(), Row: ve.Row, Err: err}
		}
		return nil, newError(KindStorage, "не удалось прочитать загруженный файл", err)
	}
	if len(parsed.Samples) == 0 {
		return nil, newError(KindNoValidSamples, "в файле нет корректных образцов", nil)
	}
	if len(parsed.Warnings) > 0 {
		r.log.Info("Строки CSV пропущены", slog.Int("skipped", len(parsed.Warnings)))
	}

	// 4. Файл и образцы - одной транзакцией, строго до запуска движка
	if err := s.transition(r, pipeline.StatePersistingInputs); err != nil {
		return nil, err
	}
	file := &model.UploadedFile{
		OriginalFilename: req.Filename,
		StoragePath:      saved.StoragePath,
		Size:             saved.Size,
		Checksum:         saved.Checksum,
		UserID:           req.UserID,
	}
	if err := s.store.SaveInputs(ctx, file, parsed.Samples); err != nil {
		return nil, newError(KindStorage, "не удалось сохранить образцы", err)
	}
	r.log = r.log.With(slog.Int64("file_id", file.ID))

	// 5. Движок
	if err := s.transition(r, pipeline.StateInvoking); err != nil {
		return nil, err
	}
	out, err := s.invoke(ctx, req.UserID, pattern, algorithm, parsed.Samples)
	if err != nil {
		return nil, err
	}

	// 6. Запуск и результаты - одной транзакцией
	if err := s.transition(r, pipeline.StatePersistingOutputs); err != nil {
		return nil, err
	}
	searchRun, results := buildRun(req.UserID, pattern, algorithm, file.ID, len(parsed.Samples), out)
	if err := s.store.SaveRun(ctx, searchRun, results); err != nil {
		return nil, newError(KindStorage, "не удалось сохранить результаты поиска", err)
	}

	if err := s.transition(r, pipeline.StateDone); err != nil {
		return nil, err
	}

	return &SearchResponse{
		RunID:        searchRun.ID,
		Pattern:      pattern,
		Algorithm:    algorithm,
		TotalSamples: searchRun.TotalSamples,
		TotalMatches: searchRun.TotalMatches,
		Results:      results,
		ElapsedMs:    searchRun.EngineTimeMs,
		Message:      searchRun.EngineMessage,
		Warnings:     parsed.Warnings,
	}, nil
}

// checkRequest проверяет параметры запроса и нормализует шаблон.
func (s *SearchService) checkRequest(req SearchRequest) (string, model.Algorithm, error) {
	if req.File == nil {
		return "", "", newError(KindValidation, "файл с образцами не передан", nil)
	}

	pattern := strings.TrimSpace(req.Pattern)
	if pattern == "" {
		return "", "", newError(KindValidation, "не указан шаблон поиска", nil)
	}
	if strings.TrimSpace(req.Algorithm) == "" {
		return "", "", newError(KindValidation, "не указан алгоритм поиска", nil)
	}
	if !patternRe.MatchString(pattern) {
		return "", "", newError(KindValidation, "шаблон может содержать только символы A, C, G, T", nil)
	}

	algorithm, err := model.ParseAlgorithm(req.Algorithm)
	if err != nil {
		return "", "", newError(KindValidation, err.Error(), nil)
	}

	if !strings.EqualFold(filepath.Ext(req.Filename), ".csv") || !csvContentType(req.ContentType) {
		return "", "", newError(KindValidation, "допустимы только файлы CSV", nil)
	}
	if s.opts.MaxUploadSize > 0 && req.Size > s.opts.MaxUploadSize {
		return "", "", newError(KindValidation,
			fmt.Sprintf("файл превышает допустимый размер %d байт", s.opts.MaxUploadSize), filestore.ErrTooLarge)
	}

	return strings.ToUpper(pattern), algorithm, nil
}

// csvContentTypes - типы, под которыми браузеры и клиенты отправляют CSV.
// application/octet-stream шлют curl и клиенты без таблицы типов.
var csvContentTypes = map[string]bool{
	"text/csv":                 true,
	"application/csv":          true,
	"text/plain":               true,
	"application/vnd.ms-excel": true,
	"application/octet-stream": true,
}

// csvContentType проверяет Content-Type загрузки. Отсутствующий тип допустим.
func csvContentType(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return csvContentTypes[mediaType]
}

// invoke пишет нормализованный вход движка и запускает его.
func (s *SearchService) invoke(
	ctx context.Context, userID, pattern string, algorithm model.Algorithm, samples []model.Sample,
) (*engine.Output, error) {
	input, err := s.inputs.Create(userID, ".csv", func(w io.Writer) error {
		return sequence.WriteCSV(w, samples)
	})
	if err != nil {
		return nil, newError(KindStorage, "не удалось подготовить вход движка", err)
	}
	if s.opts.CleanupInputs {
		defer func() {
			if err := s.inputs.Delete(input.StoragePath); err != nil {
				s.logger.Warn("Не удалось удалить вход движка", slog.String("error", err.Error()))
			}
		}()
	}

	out, err := s.invoker.Invoke(ctx, input.FullPath, pattern, algorithm.EngineCode())
	if err != nil {
		return nil, translateEngineError(err)
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "движок сообщил об ошибке без описания"
		}
		return nil, newError(KindEngineExecution, msg, nil)
	}
	return out, nil
}

// translateEngineError переводит ошибку движка в SearchError.
func translateEngineError(err error) error {
	var ee *engine.Error
	if !errors.As(err, &ee) {
		return newError(KindEngineExecution, "ошибка запуска движка", err)
	}

	se := &SearchError{Message: ee.Message, Err: err}
	switch ee.Kind {
	case engine.KindTimeout:
		se.Kind = KindEngineTimeout
	case engine.KindOutput:
		se.Kind = KindEngineOutput
		se.Diagnostic = ee.RawOutput
	default:
		se.Kind = KindEngineExecution
		se.Diagnostic = ee.Stderr
	}
	return se
}

// buildRun собирает запуск и результаты из выдачи движка.
// Образцы без совпадений не сохраняются.
func buildRun(
	userID, pattern string, algorithm model.Algorithm, fileID int64, totalSamples int, out *engine.Output,
) (*model.SearchRun, []model.MatchResult) {
	run := &model.SearchRun{
		Pattern:       pattern,
		Algorithm:     algorithm,
		UserID:        userID,
		FileID:        fileID,
		TotalSamples:  totalSamples,
		EngineTimeMs:  out.ElapsedMs(),
		EngineMessage: out.Message,
	}

	results := make([]model.MatchResult, 0)
	for i, sp := range out.Suspects {
		if sp.MatchesCount == 0 {
			continue
		}
		run.TotalMatches++
		run.TotalOccurrences += sp.MatchesCount

		positions := sp.Positions
		if positions == nil {
			positions = []int{}
		}
		results = append(results, model.MatchResult{
			Ordinal:     i,
			SuspectName: sp.Name,
			Exact:       true,
			Positions:   positions,
			MatchCount:  sp.MatchesCount,
		})
	}
	return run, results
}

// transition переводит конвейер в следующее состояние.
func (s *SearchService) transition(r *run, target pipeline.State) error {
	from := r.sm.Current()
	if err := r.sm.TransitionTo(target); err != nil {
		return fmt.Errorf("конвейер поиска: %w", err)
	}
	r.log.Debug("Переход состояния конвейера",
		slog.String("from", string(from)),
		slog.String("to", string(target)),
	)
	return nil
}

// abort переводит конвейер в aborted. Загрузка удаляется, только если
// входные данные ещё не были зафиксированы в БД.
func (s *SearchService) abort(r *run, err error) {
	kind := KindOf(err)
	outcome := string(kind)
	if outcome == "" {
		outcome = "InternalError"
	}
	searchTotal.WithLabelValues(outcome).Inc()

	from := r.sm.Current()
	if _, abortErr := r.sm.Abort(err.Error()); abortErr != nil {
		r.log.Error("Не удалось прервать конвейер", slog.String("error", abortErr.Error()))
	}

	attrs := []any{
		slog.String("state", string(from)),
		slog.String("kind", outcome),
		slog.String("error", err.Error()),
		slog.String("transitions", transitionPath(r.sm.History())),
	}
	var se *SearchError
	if errors.As(err, &se) && se.Diagnostic != "" {
		attrs = append(attrs, slog.String("diagnostic", se.Diagnostic))
	}
	switch kind {
	case KindValidation, KindNoValidSamples:
		r.log.Info("Запрос на поиск отклонён", attrs...)
	default:
		r.log.Error("Поиск прерван", attrs...)
	}

	if r.upload == "" || r.sm.InputsPersisted() {
		return
	}
	if delErr := s.uploads.Delete(r.upload); delErr != nil {
		r.log.Warn("Не удалось удалить загрузку",
			slog.String("path", r.upload),
			slog.String("error", delErr.Error()),
		)
	}
}

// transitionPath сворачивает историю переходов в строку вида
// "validating → persisting_inputs → aborted".
func transitionPath(history []pipeline.TransitionRecord) string {
	if len(history) == 0 {
		return ""
	}
	states := make([]string, 0, len(history)+1)
	states = append(states, string(history[0].From))
	for _, rec := range history {
		states = append(states, string(rec.To))
	}
	return strings.Join(states, " → ")
}
