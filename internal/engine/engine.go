// Пакет engine - запуск внешнего движка поиска совпадений.
//
// Контракт вызова:
//
//	engine <samples_csv_path> <PATTERN> <CODE> [<output_json_path>]
//
// Движок пишет JSON-документ либо в файл (4-й аргумент), либо в stdout:
//
//	{"success": bool, "message": string, "processing_time_ms": number,
//	 "suspects": [{"name": string, "matches_count": int, "positions": [int]}]}
//
// Позиции отсчитываются с нуля. Бизнес-проверка шаблона и кода алгоритма
// здесь не выполняется.
package engine

import (
	"context"
	"fmt"
)

// Kind - вид отказа движка.
type Kind string

const (
	// KindTimeout - движок не уложился в отведённое время и был остановлен
	KindTimeout Kind = "EngineTimeout"
	// KindExecution - процесс не запустился или завершился с ненулевым кодом
	KindExecution Kind = "EngineExecutionError"
	// KindOutput - результат отсутствует или не соответствует схеме
	KindOutput Kind = "EngineOutputError"
)

// Error - типизированная ошибка запуска движка.
// Stderr и RawOutput предназначены для логов и не отдаются клиенту.
type Error struct {
	Kind     Kind
	Message  string
	ExitCode int
	// Stderr - захваченный поток ошибок процесса
	Stderr string
	// RawOutput - сырой результат, который не удалось разобрать
	RawOutput string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Suspect - результат по одному образцу.
type Suspect struct {
	Name         string `json:"name"`
	MatchesCount int    `json:"matches_count"`
	// Positions - nil, если движок не прислал позиции
	Positions []int `json:"positions"`
}

// Output - разобранный результат движка.
type Output struct {
	Success          bool      `json:"success"`
	Message          string    `json:"message"`
	ProcessingTimeMs float64   `json:"processing_time_ms"`
	Suspects         []Suspect `json:"suspects"`

	// OutputPath - путь к выходному JSON (пусто в режиме stdout)
	OutputPath string `json:"-"`
}

// ElapsedMs возвращает время работы движка в целых миллисекундах.
func (o *Output) ElapsedMs() int64 {
	return int64(o.ProcessingTimeMs + 0.5)
}

// Invoker - узкий интерфейс движка. Реализация может быть как внешним
// процессом, так и встроенным поиском.
type Invoker interface {
	Invoke(ctx context.Context, samplesPath, pattern, algorithmCode string) (*Output, error)
}

// validate проверяет согласованность результата.
func (o *Output) validate() error {
	for i, s := range o.Suspects {
		if s.MatchesCount < 0 {
			return fmt.Errorf("suspects[%d] (%s): отрицательное matches_count %d", i, s.Name, s.MatchesCount)
		}
		if s.Positions != nil && len(s.Positions) != s.MatchesCount {
			return fmt.Errorf("suspects[%d] (%s): matches_count=%d не совпадает с количеством позиций %d",
				i, s.Name, s.MatchesCount, len(s.Positions))
		}
	}
	return nil
}
