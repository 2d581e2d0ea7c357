// main.go - эталонный движок поиска совпадений.
//
// Вызов:
//
//	dna-engine <samples_csv_path> <PATTERN> <KMP|RK|AC> [<output_json_path>]
//
// Без 4-го аргумента результат пишется в stdout.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/dnasearch/internal/config"
	"github.com/bigkaa/dnasearch/internal/matcher"
	"github.com/bigkaa/dnasearch/internal/sequence"
)

type suspect struct {
	Name         string `json:"name"`
	MatchesCount int    `json:"matches_count"`
	Positions    []int  `json:"positions"`
}

type result struct {
	Success          bool      `json:"success"`
	Message          string    `json:"message"`
	ProcessingTimeMs float64   `json:"processing_time_ms"`
	Suspects         []suspect `json:"suspects"`
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:           "dna-engine <samples_csv_path> <PATTERN> <KMP|RK|AC> [<output_json_path>]",
		Short:         "Поиск шаблона ДНК в наборе образцов",
		Version:       config.Version,
		Args:          cobra.RangeArgs(3, 4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := search(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if len(args) == 4 {
				return writeFile(args[3], res)
			}
			return json.NewEncoder(stdout).Encode(res)
		},
	}
}

// search выполняет поиск. Логические ошибки (неизвестный алгоритм,
// некорректный шаблон) попадают в результат с success=false,
// ошибки ввода-вывода возвращаются как error.
func search(samplesPath, pattern, code string) (*result, error) {
	start := time.Now()
	res := &result{Suspects: make([]suspect, 0)}

	find, err := matcher.ByCode(code)
	if err != nil {
		res.Message = err.Error()
		return res, nil
	}
	if !sequence.IsDNA(pattern) {
		res.Message = fmt.Sprintf("шаблон %q содержит символы вне A, C, G, T", pattern)
		return res, nil
	}
	pattern = strings.ToUpper(pattern)

	parsed, err := sequence.ParseFile(samplesPath, sequence.Lenient)
	if err != nil {
		return nil, fmt.Errorf("чтение образцов: %w", err)
	}

	for _, s := range parsed.Samples {
		positions := find(s.Sequence, pattern)
		if positions == nil {
			positions = []int{}
		}
		res.Suspects = append(res.Suspects, suspect{
			Name:         s.Name,
			MatchesCount: len(positions),
			Positions:    positions,
		})
	}

	res.Success = true
	res.Message = fmt.Sprintf("Búsqueda completada: %d muestras", len(parsed.Samples))
	res.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return res, nil
}

// writeFile пишет результат через временный файл и rename,
// чтобы читатель не увидел частично записанный JSON.
func writeFile(path string, res *result) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("создание %s: %w", tmp, err)
	}
	if err := json.NewEncoder(f).Encode(res); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("запись результата: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("закрытие %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
