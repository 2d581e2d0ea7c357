// Пакет sequence - разбор и проверка CSV с образцами ДНК.
//
// Формат: необязательный заголовок name,sequence (или nombre,secuencia,
// без учёта регистра), далее по одной паре имя,последовательность в строке.
// Последовательность после приведения к верхнему регистру должна
// состоять только из A, C, G, T.
//
// Пакет ничего не сохраняет: результат разбора передаётся вызывающему.
package sequence

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/bigkaa/dnasearch/internal/domain/model"
)

// DefaultMaxLineSize - максимальная длина строки CSV по умолчанию (1 MiB).
const DefaultMaxLineSize = 1024 * 1024

// Mode - режим строгости проверки.
type Mode int

const (
	// Lenient - некорректные строки пропускаются и попадают в предупреждения.
	Lenient Mode = iota
	// Strict - первая некорректная строка прерывает разбор.
	Strict
)

// String возвращает имя режима для логов.
func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "lenient"
}

var dnaRe = regexp.MustCompile(`^[ACGT]+$`)

// headers - допустимые заголовки (в нижнем регистре).
var headers = map[[2]string]bool{
	{"name", "sequence"}:    true,
	{"nombre", "secuencia"}: true,
}

// Warning - пропущенная строка в мягком режиме.
type Warning struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Result - итог разбора файла.
type Result struct {
	// Samples - корректные образцы в порядке следования в файле
	Samples []model.Sample
	// ValidRows - количество корректных строк данных
	ValidRows int
	// Warnings - причины пропуска строк (только мягкий режим)
	Warnings []Warning
	// HasHeader - в файле был заголовок
	HasHeader bool
}

// ValidationError - ошибка проверки CSV с номером строки.
// Row = 0 означает ошибку уровня файла (например, пустой файл).
type ValidationError struct {
	Row    int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Row == 0 {
		return "некорректный CSV: " + e.Reason
	}
	return fmt.Sprintf("некорректный CSV, строка %d: %s", e.Row, e.Reason)
}

// Option - параметр разбора.
type Option func(*parser)

// WithMaxLineSize задаёт максимальную длину строки в байтах.
func WithMaxLineSize(n int) Option {
	return func(p *parser) {
		if n > 0 {
			p.maxLineSize = n
		}
	}
}

type parser struct {
	mode        Mode
	maxLineSize int
}

// ParseFile разбирает CSV-файл по пути path.
func ParseFile(path string, mode Mode, opts ...Option) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("открытие %s: %w", path, err)
	}
	defer f.Close()

	return Parse(f, mode, opts...)
}

// Parse читает CSV из r и возвращает корректные образцы.
// Ошибки проверки возвращаются как *ValidationError, ошибки чтения - обёрнутыми.
func Parse(r io.Reader, mode Mode, opts ...Option) (*Result, error) {
	p := &parser{mode: mode, maxLineSize: DefaultMaxLineSize}
	for _, opt := range opts {
		opt(p)
	}
	return p.parse(r)
}

func (p *parser) parse(r io.Reader) (*Result, error) {
	scanner := bufio.NewScanner(r)
	bufSize := 64 * 1024
	if bufSize > p.maxLineSize {
		bufSize = p.maxLineSize
	}
	scanner.Buffer(make([]byte, 0, bufSize), p.maxLineSize)

	res := &Result{Samples: make([]model.Sample, 0)}
	row := 0
	seenFirst := false

	for scanner.Scan() {
		row++
		line := scanner.Text()
		if row == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields, err := splitLine(line)
		if err != nil {
			return nil, &ValidationError{Row: row, Reason: "синтаксическая ошибка CSV: " + err.Error()}
		}

		if !seenFirst {
			seenFirst = true
			if isHeader(fields) {
				res.HasHeader = true
				continue
			}
			// Файл без заголовка допустим, только если первая строка - корректные данные
			if _, reason := checkRow(fields); reason != "" {
				return nil, &ValidationError{
					Row:    row,
					Reason: fmt.Sprintf("ожидался заголовок name,sequence или nombre,secuencia, получено %q", line),
				}
			}
		} else if len(fields) > 0 && isHeaderName(fields[0]) {
			// Повторный заголовок (например, склеенные файлы)
			continue
		}

		sample, reason := checkRow(fields)
		if reason != "" {
			if p.mode == Strict {
				return nil, &ValidationError{Row: row, Reason: reason}
			}
			res.Warnings = append(res.Warnings, Warning{Row: row, Reason: reason})
			continue
		}

		sample.Row = row
		res.Samples = append(res.Samples, sample)
		res.ValidRows++
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, &ValidationError{
				Row:    row + 1,
				Reason: fmt.Sprintf("строка длиннее %d байт", p.maxLineSize),
			}
		}
		return nil, fmt.Errorf("чтение CSV: %w", err)
	}

	if !seenFirst {
		return nil, &ValidationError{Row: 0, Reason: "файл пуст"}
	}

	return res, nil
}

// splitLine разбирает одну строку CSV с учётом кавычек.
func splitLine(line string) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(line))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	fields, err := cr.Read()
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// checkRow проверяет строку данных. Пустая причина означает корректную строку.
func checkRow(fields []string) (model.Sample, string) {
	if len(fields) != 2 {
		return model.Sample{}, fmt.Sprintf("ожидалось 2 поля, получено %d", len(fields))
	}

	name := strings.TrimSpace(fields[0])
	seq := strings.ToUpper(strings.TrimSpace(fields[1]))

	if name == "" {
		return model.Sample{}, "пустое имя"
	}
	if seq == "" {
		return model.Sample{}, "пустая последовательность"
	}
	if !dnaRe.MatchString(seq) {
		return model.Sample{}, fmt.Sprintf("последовательность %q содержит символы вне A, C, G, T", truncate(seq, 32))
	}

	return model.Sample{Name: name, Sequence: seq}, ""
}

func isHeader(fields []string) bool {
	if len(fields) != 2 {
		return false
	}
	key := [2]string{normalize(fields[0]), normalize(fields[1])}
	return headers[key]
}

func isHeaderName(field string) bool {
	n := normalize(field)
	return n == "name" || n == "nombre"
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsDNA сообщает, состоит ли s только из A, C, G, T (без учёта регистра).
func IsDNA(s string) bool {
	return s != "" && dnaRe.MatchString(strings.ToUpper(s))
}

// WriteCSV записывает образцы в формате входа движка:
// заголовок Nombre,Secuencia и по строке на образец.
func WriteCSV(w io.Writer, samples []model.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Nombre", "Secuencia"}); err != nil {
		return fmt.Errorf("запись заголовка: %w", err)
	}
	for _, s := range samples {
		if err := cw.Write([]string{s.Name, s.Sequence}); err != nil {
			return fmt.Errorf("запись образца %q: %w", s.Name, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
