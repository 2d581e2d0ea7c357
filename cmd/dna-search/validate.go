package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/bigkaa/dnasearch/internal/sequence"
)

// validateReport - итог офлайн-проверки CSV.
type validateReport struct {
	File      string             `json:"file"`
	Mode      string             `json:"mode"`
	HasHeader bool               `json:"has_header"`
	ValidRows int                `json:"valid_rows"`
	Warnings  []sequence.Warning `json:"warnings"`
}

var errNoValidSamples = errors.New("в файле нет корректных образцов")

func newValidateCommand(stdout io.Writer) *cobra.Command {
	var (
		strict      bool
		maxLineSize int
	)

	cmd := &cobra.Command{
		Use:   "validate <file.csv>",
		Short: "Проверить CSV с образцами без запуска поиска",
		Long: "Проверяет CSV теми же правилами, что и API. В строгом режиме первая\n" +
			"некорректная строка завершает проверку с ошибкой.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := sequence.Lenient
			if strict {
				mode = sequence.Strict
			}

			res, err := sequence.ParseFile(args[0], mode, sequence.WithMaxLineSize(maxLineSize))
			if err != nil {
				return err
			}

			report := validateReport{
				File:      args[0],
				Mode:      mode.String(),
				HasHeader: res.HasHeader,
				ValidRows: res.ValidRows,
				Warnings:  res.Warnings,
			}
			if report.Warnings == nil {
				report.Warnings = []sequence.Warning{}
			}

			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}

			if res.ValidRows == 0 {
				return errNoValidSamples
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "прерывать проверку на первой некорректной строке")
	cmd.Flags().IntVar(&maxLineSize, "max-line-size", sequence.DefaultMaxLineSize, "максимальная длина строки в байтах")
	return cmd
}
