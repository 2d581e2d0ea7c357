package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Transport - способ получения результата от движка.
type Transport string

const (
	// TransportFile - результат в файле, путь передаётся 4-м аргументом
	TransportFile Transport = "file"
	// TransportStdout - результат в stdout
	TransportStdout Transport = "stdout"
)

// DefaultTimeout - предельное время работы движка по умолчанию.
const DefaultTimeout = 300 * time.Second

// DefaultMaxOutputSize - предел размера результата движка по умолчанию.
const DefaultMaxOutputSize = 64 << 20

// maxDiagnostic - сколько байт stderr/stdout сохранять в ошибке.
const maxDiagnostic = 64 * 1024

// Options - параметры ProcessInvoker.
type Options struct {
	// Path - исполняемый файл движка
	Path string
	// WorkDir - каталог для выходных JSON (режим file)
	WorkDir string
	// Transport - file или stdout
	Transport Transport
	// Timeout - предельное время работы процесса
	Timeout time.Duration
	// Cleanup - удалять выходной JSON после разбора
	Cleanup bool
	// MaxOutputSize - предел размера результата (stdout или выходной файл)
	MaxOutputSize int64
}

// ProcessInvoker запускает движок как дочерний процесс.
// Безопасен для конкурентного использования: имена выходных файлов уникальны.
type ProcessInvoker struct {
	opts   Options
	logger *slog.Logger
}

// NewProcessInvoker создаёт ProcessInvoker.
func NewProcessInvoker(opts Options, logger *slog.Logger) (*ProcessInvoker, error) {
	if opts.Path == "" {
		return nil, errors.New("не задан путь к движку")
	}
	if opts.Transport == "" {
		opts.Transport = TransportFile
	}
	if opts.Transport != TransportFile && opts.Transport != TransportStdout {
		return nil, fmt.Errorf("недопустимый транспорт движка: %q", opts.Transport)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxOutputSize <= 0 {
		opts.MaxOutputSize = DefaultMaxOutputSize
	}
	if opts.Transport == TransportFile {
		if opts.WorkDir == "" {
			return nil, errors.New("не задан рабочий каталог движка")
		}
		if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("создание рабочего каталога движка: %w", err)
		}
	}

	return &ProcessInvoker{
		opts:   opts,
		logger: logger.With(slog.String("component", "engine")),
	}, nil
}

// Invoke запускает движок и возвращает разобранный результат или *Error.
//
// Отмена ctx не прерывает процесс: единственный механизм остановки -
// таймаут. Значения ctx (request id и т.п.) сохраняются.
func (p *ProcessInvoker) Invoke(ctx context.Context, samplesPath, pattern, algorithmCode string) (*Output, error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.Timeout)
	defer cancel()

	args := []string{samplesPath, pattern, algorithmCode}
	var outputPath string
	if p.opts.Transport == TransportFile {
		outputPath = filepath.Join(p.opts.WorkDir, uuid.NewString()+".json")
		args = append(args, outputPath)
	}

	cmd := exec.CommandContext(runCtx, p.opts.Path, args...)
	stdout := &limitedBuffer{limit: p.opts.MaxOutputSize}
	stderr := &limitedBuffer{limit: p.opts.MaxOutputSize}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// По таймауту останавливается вся группа процессов движка
	killProcessGroup(cmd)
	// Не ждать бесконечно потомков, унаследовавших stdout/stderr
	cmd.WaitDelay = 2 * time.Second

	log := p.logger.With(
		slog.String("algorithm", algorithmCode),
		slog.Int("pattern_len", len(pattern)),
		slog.String("samples_path", samplesPath),
	)
	log.Debug("Запуск движка", slog.String("output_path", outputPath))

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)
	engineDuration.Observe(elapsed.Seconds())

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		p.cleanup(outputPath)
		return nil, p.fail(log, &Error{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("движок не завершился за %s и был остановлен", p.opts.Timeout),
			Stderr:  tail(stderr.Bytes()),
			Err:     runErr,
		})
	}

	if runErr != nil {
		e := &Error{
			Kind:   KindExecution,
			Stderr: tail(stderr.Bytes()),
			Err:    runErr,
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			e.ExitCode = exitErr.ExitCode()
			e.Message = fmt.Sprintf("движок завершился с кодом %d", e.ExitCode)
		} else {
			e.ExitCode = -1
			e.Message = "не удалось запустить движок"
		}
		p.cleanup(outputPath)
		return nil, p.fail(log, e)
	}

	if stdout.overflow {
		p.cleanup(outputPath)
		return nil, p.fail(log, &Error{
			Kind:      KindOutput,
			Message:   fmt.Sprintf("вывод движка превышает %d байт", p.opts.MaxOutputSize),
			Stderr:    tail(stderr.Bytes()),
			RawOutput: tail(stdout.Bytes()),
		})
	}

	raw := stdout.Bytes()
	if p.opts.Transport == TransportFile {
		data, err := p.readOutput(outputPath)
		if errors.Is(err, errOutputTooLarge) {
			p.cleanup(outputPath)
			return nil, p.fail(log, &Error{
				Kind:      KindOutput,
				Message:   fmt.Sprintf("выходной файл движка превышает %d байт", p.opts.MaxOutputSize),
				Stderr:    tail(stderr.Bytes()),
				RawOutput: tail(raw),
				Err:       err,
			})
		}
		if err != nil {
			return nil, p.fail(log, &Error{
				Kind:      KindOutput,
				Message:   "движок не создал выходной файл",
				Stderr:    tail(stderr.Bytes()),
				RawOutput: tail(raw),
				Err:       err,
			})
		}
		raw = data
	}

	out, err := decode(raw)
	if err != nil {
		return nil, p.fail(log, &Error{
			Kind:      KindOutput,
			Message:   "некорректный JSON движка",
			Stderr:    tail(stderr.Bytes()),
			RawOutput: tail(raw),
			Err:       err,
		})
	}
	out.OutputPath = outputPath

	if p.opts.Cleanup {
		p.cleanup(outputPath)
		out.OutputPath = ""
	}

	log.Info("Движок завершил работу",
		slog.Bool("success", out.Success),
		slog.Int("suspects", len(out.Suspects)),
		slog.Duration("elapsed", elapsed),
	)
	return out, nil
}

var errOutputTooLarge = errors.New("результат движка слишком большой")

// readOutput читает выходной файл не более MaxOutputSize байт.
func (p *ProcessInvoker) readOutput(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, p.opts.MaxOutputSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > p.opts.MaxOutputSize {
		return nil, errOutputTooLarge
	}
	return data, nil
}

// document - JSON движка с обязательными полями.
// Указатели отличают отсутствующее поле от нулевого значения.
type document struct {
	Success          *bool      `json:"success"`
	Message          string     `json:"message"`
	ProcessingTimeMs float64    `json:"processing_time_ms"`
	Suspects         *[]Suspect `json:"suspects"`
}

// decode разбирает и проверяет JSON движка.
// Документ должен быть объектом с полем success; при success=true
// обязателен массив suspects.
func decode(raw []byte) (*Output, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("пустой результат")
	}
	if trimmed[0] != '{' {
		return nil, errors.New("результат не является JSON-объектом")
	}

	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	if doc.Success == nil {
		return nil, errors.New("отсутствует поле success")
	}

	out := Output{
		Success:          *doc.Success,
		Message:          doc.Message,
		ProcessingTimeMs: doc.ProcessingTimeMs,
	}
	if doc.Suspects != nil {
		out.Suspects = *doc.Suspects
	}
	if out.Success && out.Suspects == nil {
		return nil, errors.New("отсутствует массив suspects")
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *ProcessInvoker) fail(log *slog.Logger, e *Error) error {
	engineFailures.WithLabelValues(string(e.Kind)).Inc()
	log.Error("Ошибка движка",
		slog.String("kind", string(e.Kind)),
		slog.String("message", e.Message),
		slog.Int("exit_code", e.ExitCode),
		slog.String("stderr", e.Stderr),
		slog.String("raw_output", e.RawOutput),
	)
	return e
}

// cleanup удаляет выходной файл, если включена очистка.
// По умолчанию файлы остаются в рабочем каталоге для разбора инцидентов.
func (p *ProcessInvoker) cleanup(path string) {
	if path == "" || !p.opts.Cleanup {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("Не удалось удалить выходной файл движка",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// limitedBuffer накапливает не более limit байт, остальное отбрасывает.
// Запись не возвращает ошибку, чтобы движок не получал EPIPE на полпути.
type limitedBuffer struct {
	buf      bytes.Buffer
	limit    int64
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - int64(b.buf.Len())
	if int64(len(p)) > room {
		b.overflow = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) Bytes() []byte { return b.buf.Bytes() }

// tail возвращает последние maxDiagnostic байт.
func tail(b []byte) string {
	if len(b) > maxDiagnostic {
		b = b[len(b)-maxDiagnostic:]
	}
	return string(b)
}
