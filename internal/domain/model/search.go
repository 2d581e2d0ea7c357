package model

import (
	"fmt"
	"strings"
	"time"
)

// Algorithm - метка алгоритма поиска, как её видит пользователь.
type Algorithm string

const (
	AlgorithmKMP         Algorithm = "KMP"
	AlgorithmRabinKarp   Algorithm = "Rabin-Karp"
	AlgorithmAhoCorasick Algorithm = "Aho-Corasick"
)

// engineCodes - соответствие меток алгоритмов кодам движка.
var engineCodes = map[Algorithm]string{
	AlgorithmKMP:         "KMP",
	AlgorithmRabinKarp:   "RK",
	AlgorithmAhoCorasick: "AC",
}

// ParseAlgorithm проверяет метку алгоритма.
// Сравнение регистрозависимое: допустимы только KMP, Rabin-Karp, Aho-Corasick.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.TrimSpace(s))
	if _, ok := engineCodes[a]; !ok {
		return "", fmt.Errorf("недопустимый алгоритм: %q, допустимые: KMP, Rabin-Karp, Aho-Corasick", s)
	}
	return a, nil
}

// EngineCode возвращает внутренний код алгоритма для движка (KMP, RK, AC).
func (a Algorithm) EngineCode() string {
	return engineCodes[a]
}

// SearchRun - один успешный запуск движка.
// Хранится в таблице search_runs, после создания не изменяется.
type SearchRun struct {
	ID        int64
	Pattern   string
	Algorithm Algorithm
	UserID    string
	FileID    int64
	CreatedAt time.Time
	// TotalSamples - количество образцов, переданных движку
	TotalSamples int
	// TotalMatches - количество образцов хотя бы с одним совпадением
	TotalMatches int
	// TotalOccurrences - сумма совпадений по всем образцам
	TotalOccurrences int
	// EngineTimeMs - время работы движка по его собственному отчёту
	EngineTimeMs int64
	// EngineMessage - сообщение движка
	EngineMessage string
}

// MatchResult - совпадения шаблона в одном образце.
// Хранится в таблице match_results, после создания не изменяется.
type MatchResult struct {
	ID    int64
	RunID int64
	// Ordinal - порядковый номер в выдаче движка
	Ordinal     int
	SuspectName string
	// Exact - всегда true, нечёткий поиск не поддерживается
	Exact bool
	// Similarity - зарезервировано под нечёткий поиск, всегда nil
	Similarity *float64
	// Positions - позиции начала совпадений, с нуля
	Positions  []int
	MatchCount int
}

// RunSummary - строка истории поиска пользователя.
type RunSummary struct {
	SearchRun
	// FileName - исходное имя загруженного файла
	FileName string
	// ResultCount - количество сохранённых MatchResult
	ResultCount int
}

// RunDetail - запуск с результатами для детального просмотра.
type RunDetail struct {
	Run      SearchRun
	FileName string
	Results  []MatchResult
}
