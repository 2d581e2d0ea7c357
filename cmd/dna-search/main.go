// Точка входа DNA Search - сервис поиска шаблонов ДНК в загруженных образцах.
//
// Команды:
//
//	dna-search serve                      - HTTP API
//	dna-search migrate up|down --steps N  - миграции БД
//	dna-search validate <file.csv>        - офлайн-проверка CSV
//
// Конфигурация serve и migrate - переменные окружения DS_*.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/dnasearch/internal/config"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "dna-search",
		Short:         "Сервис поиска шаблонов ДНК",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newValidateCommand(stdout),
	)
	return root
}
