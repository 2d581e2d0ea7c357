// Пакет matcher - точный поиск шаблона в последовательностях ДНК.
//
// Три алгоритма (KMP, Rabin-Karp, Aho-Corasick) возвращают одинаковый
// результат: позиции начала всех вхождений, с нуля, с перекрытиями.
// Используется эталонным движком cmd/dna-engine.
package matcher

import "fmt"

// Коды алгоритмов, как их передают движку.
const (
	CodeKMP         = "KMP"
	CodeRabinKarp   = "RK"
	CodeAhoCorasick = "AC"
)

// Func - функция поиска всех вхождений pattern в text.
type Func func(text, pattern string) []int

// ByCode возвращает функцию поиска по коду алгоритма.
func ByCode(code string) (Func, error) {
	switch code {
	case CodeKMP:
		return KMP, nil
	case CodeRabinKarp:
		return RabinKarp, nil
	case CodeAhoCorasick:
		return AhoCorasick, nil
	default:
		return nil, fmt.Errorf("неизвестный код алгоритма: %q, допустимые: KMP, RK, AC", code)
	}
}

// KMP - поиск Кнута-Морриса-Пратта.
func KMP(text, pattern string) []int {
	n, m := len(text), len(pattern)
	if m == 0 || n < m {
		return nil
	}

	lps := prefixTable(pattern)
	var matches []int

	j := 0
	for i := 0; i < n; i++ {
		for j > 0 && text[i] != pattern[j] {
			j = lps[j-1]
		}
		if text[i] == pattern[j] {
			j++
		}
		if j == m {
			matches = append(matches, i-m+1)
			j = lps[j-1]
		}
	}
	return matches
}

// prefixTable строит таблицу длин наибольших собственных префиксов-суффиксов.
func prefixTable(pattern string) []int {
	lps := make([]int, len(pattern))
	k := 0
	for i := 1; i < len(pattern); i++ {
		for k > 0 && pattern[i] != pattern[k] {
			k = lps[k-1]
		}
		if pattern[i] == pattern[k] {
			k++
		}
		lps[i] = k
	}
	return lps
}

const (
	rkBase = 4
	rkMod  = 1_000_000_007
)

// RabinKarp - поиск с rolling hash. Совпадения хэша перепроверяются.
func RabinKarp(text, pattern string) []int {
	n, m := len(text), len(pattern)
	if m == 0 || n < m {
		return nil
	}

	// h = base^(m-1) mod q
	var h int64 = 1
	for i := 0; i < m-1; i++ {
		h = h * rkBase % rkMod
	}

	var ph, th int64
	for i := 0; i < m; i++ {
		ph = (rkBase*ph + int64(pattern[i])) % rkMod
		th = (rkBase*th + int64(text[i])) % rkMod
	}

	var matches []int
	for i := 0; i <= n-m; i++ {
		if ph == th && text[i:i+m] == pattern {
			matches = append(matches, i)
		}
		if i < n-m {
			th = (rkBase*(th-int64(text[i])*h%rkMod) + int64(text[i+m])) % rkMod
			if th < 0 {
				th += rkMod
			}
		}
	}
	return matches
}
