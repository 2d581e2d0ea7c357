// search.go - обработчики поиска и истории.
// Имена полей JSON совпадают с контрактом фронтенда (испанские).
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/dnasearch/internal/api/errors"
	"github.com/bigkaa/dnasearch/internal/api/middleware"
	"github.com/bigkaa/dnasearch/internal/domain/model"
	"github.com/bigkaa/dnasearch/internal/service"
	"github.com/bigkaa/dnasearch/internal/storage/filestore"
)

// multipartOverhead - запас на заголовки и поля формы сверх размера файла.
const multipartOverhead = 1 << 20

// multipartMemory - часть формы, которая держится в памяти; остальное - во временных файлах.
const multipartMemory = 4 << 20

// --- DTO ---

type searchResultDTO struct {
	Nombre           string `json:"nombre"`
	Exacta           bool   `json:"exacta"`
	NumCoincidencias int    `json:"num_coincidencias"`
	Posiciones       []int  `json:"posiciones"`
}

type warningDTO struct {
	Fila   int    `json:"fila"`
	Motivo string `json:"motivo"`
}

type searchDTO struct {
	ID            int64             `json:"id"`
	Patron        string            `json:"patron"`
	Algoritmo     string            `json:"algoritmo"`
	TotalMuestras int               `json:"totalMuestras"`
	Coincidencias int               `json:"coincidencias"`
	Resultados    []searchResultDTO `json:"resultados"`
	TiempoMs      int64             `json:"tiempoMs"`
	Advertencias  []warningDTO      `json:"advertencias"`
}

type searchResponse struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	Busqueda searchDTO `json:"busqueda"`
}

type historyItemDTO struct {
	IDBusqueda         int64     `json:"id_busqueda"`
	Patron             string    `json:"patron"`
	AlgoritmoUsado     string    `json:"algoritmo_usado"`
	Fecha              time.Time `json:"fecha"`
	NombreArchivo      string    `json:"nombre_archivo"`
	TotalMuestras      int       `json:"total_muestras"`
	TotalCoincidencias int       `json:"total_coincidencias"`
}

type historyResponse struct {
	Success   bool             `json:"success"`
	Historial []historyItemDTO `json:"historial"`
}

type runDTO struct {
	IDBusqueda         int64     `json:"id_busqueda"`
	Patron             string    `json:"patron"`
	AlgoritmoUsado     string    `json:"algoritmo_usado"`
	Fecha              time.Time `json:"fecha"`
	IDUsuario          string    `json:"id_usuario"`
	IDArchivo          int64     `json:"id_archivo"`
	NombreArchivo      string    `json:"nombre_archivo"`
	TotalMuestras      int       `json:"total_muestras"`
	TotalCoincidencias int       `json:"total_coincidencias"`
	TotalOcurrencias   int       `json:"total_ocurrencias"`
	TiempoMs           int64     `json:"tiempo_ms"`
	Mensaje            string    `json:"mensaje"`
}

type runResultDTO struct {
	IDResultado        int64    `json:"id_resultado"`
	IDBusqueda         int64    `json:"id_busqueda"`
	NombreSospechoso   string   `json:"nombre_sospechoso"`
	CoincidenciaExacta bool     `json:"coincidencia_exacta"`
	Similitud          *float64 `json:"similitud"`
	NumCoincidencias   int      `json:"num_coincidencias"`
	Posiciones         []int    `json:"posiciones"`
}

type runDetailResponse struct {
	Success    bool           `json:"success"`
	Busqueda   runDTO         `json:"busqueda"`
	Resultados []runResultDTO `json:"resultados"`
}

// --- Обработчики ---

// CreateSearch - POST /api/busqueda (multipart: archivo, patron, algoritmo).
func (h *APIHandler) CreateSearch(w http.ResponseWriter, r *http.Request) {
	userID := middleware.SubjectFromContext(r.Context())
	if userID == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.PayloadTooLarge(w, "Размер запроса превышает допустимый")
			return
		}
		apierrors.ValidationError(w, "Ожидается multipart/form-data с полями archivo, patron, algoritmo")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	req := service.SearchRequest{
		UserID:    userID,
		Pattern:   r.FormValue("patron"),
		Algorithm: r.FormValue("algoritmo"),
		Size:      -1,
	}

	file, header, err := r.FormFile("archivo")
	switch {
	case err == nil:
		defer file.Close()
		req.File = file
		req.Filename = header.Filename
		req.ContentType = header.Header.Get("Content-Type")
		req.Size = header.Size
	case errors.Is(err, http.ErrMissingFile):
		// Отсутствие файла - ошибка валидации в сервисе
	default:
		apierrors.ValidationError(w, "Не удалось прочитать поле archivo")
		return
	}

	resp, err := h.search.Search(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSearchResponse(resp))
}

// ListHistory - GET /api/busqueda/historial.
func (h *APIHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.SubjectFromContext(r.Context())
	if userID == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	runs, err := h.history.ListRuns(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]historyItemDTO, 0, len(runs))
	for _, run := range runs {
		items = append(items, historyItemDTO{
			IDBusqueda:         run.ID,
			Patron:             run.Pattern,
			AlgoritmoUsado:     string(run.Algorithm),
			Fecha:              run.CreatedAt,
			NombreArchivo:      run.FileName,
			TotalMuestras:      run.TotalSamples,
			TotalCoincidencias: run.ResultCount,
		})
	}

	writeJSON(w, http.StatusOK, historyResponse{Success: true, Historial: items})
}

// GetSearch - GET /api/busqueda/{id}.
func (h *APIHandler) GetSearch(w http.ResponseWriter, r *http.Request) {
	userID := middleware.SubjectFromContext(r.Context())
	if userID == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	runID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || runID <= 0 {
		apierrors.ValidationError(w, "Некорректный идентификатор поиска")
		return
	}

	detail, err := h.history.GetRun(r.Context(), userID, runID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRunDetailResponse(detail))
}

// --- Преобразования ---

func toSearchResponse(resp *service.SearchResponse) searchResponse {
	results := make([]searchResultDTO, 0, len(resp.Results))
	for _, m := range resp.Results {
		results = append(results, searchResultDTO{
			Nombre:           m.SuspectName,
			Exacta:           m.Exact,
			NumCoincidencias: m.MatchCount,
			Posiciones:       nonNil(m.Positions),
		})
	}

	warnings := make([]warningDTO, 0, len(resp.Warnings))
	for _, wr := range resp.Warnings {
		warnings = append(warnings, warningDTO{Fila: wr.Row, Motivo: wr.Reason})
	}

	msg := resp.Message
	if msg == "" {
		msg = "Búsqueda completada"
	}

	return searchResponse{
		Success: true,
		Message: msg,
		Busqueda: searchDTO{
			ID:            resp.RunID,
			Patron:        resp.Pattern,
			Algoritmo:     string(resp.Algorithm),
			TotalMuestras: resp.TotalSamples,
			Coincidencias: resp.TotalMatches,
			Resultados:    results,
			TiempoMs:      resp.ElapsedMs,
			Advertencias:  warnings,
		},
	}
}

func toRunDetailResponse(d *model.RunDetail) runDetailResponse {
	results := make([]runResultDTO, 0, len(d.Results))
	for _, m := range d.Results {
		results = append(results, runResultDTO{
			IDResultado:        m.ID,
			IDBusqueda:         m.RunID,
			NombreSospechoso:   m.SuspectName,
			CoincidenciaExacta: m.Exact,
			Similitud:          m.Similarity,
			NumCoincidencias:   m.MatchCount,
			Posiciones:         nonNil(m.Positions),
		})
	}

	return runDetailResponse{
		Success: true,
		Busqueda: runDTO{
			IDBusqueda:         d.Run.ID,
			Patron:             d.Run.Pattern,
			AlgoritmoUsado:     string(d.Run.Algorithm),
			Fecha:              d.Run.CreatedAt,
			IDUsuario:          d.Run.UserID,
			IDArchivo:          d.Run.FileID,
			NombreArchivo:      d.FileName,
			TotalMuestras:      d.Run.TotalSamples,
			TotalCoincidencias: d.Run.TotalMatches,
			TotalOcurrencias:   d.Run.TotalOccurrences,
			TiempoMs:           d.Run.EngineTimeMs,
			Mensaje:            d.Run.EngineMessage,
		},
		Resultados: results,
	}
}

func nonNil(p []int) []int {
	if p == nil {
		return []int{}
	}
	return p
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ.
// Диагностика движка (stderr, сырой вывод) клиенту не отдаётся.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	var se *service.SearchError
	if !errors.As(err, &se) {
		h.logger.Error("Необработанная ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	switch se.Kind {
	case service.KindValidation:
		if errors.Is(err, filestore.ErrTooLarge) {
			apierrors.PayloadTooLarge(w, se.Message)
			return
		}
		apierrors.WriteRowError(w, http.StatusBadRequest, apierrors.CodeValidationError, se.Message, se.Row)
	case service.KindNoValidSamples:
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeNoValidSamples, se.Message)
	case service.KindNotFound:
		apierrors.NotFound(w, se.Message)
	case service.KindEngineTimeout:
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.CodeEngineTimeout, se.Message)
	case service.KindEngineExecution:
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.CodeEngineExecutionError, se.Message)
	case service.KindEngineOutput:
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.CodeEngineOutputError,
			"Движок вернул некорректный результат")
	case service.KindStorage:
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.CodeStorageError, se.Message)
	default:
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
