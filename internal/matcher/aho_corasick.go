package matcher

// Автомат Ахо-Корасик над алфавитом {A,C,G,T}.
// Символ вне алфавита сбрасывает автомат в корень.

type acNode struct {
	next [4]int // -1 => нет перехода
	fail int
	// out - индексы шаблонов, заканчивающихся в этом состоянии
	out []int
}

// Automaton - автомат для набора шаблонов.
type Automaton struct {
	nodes    []acNode
	patterns []string
}

func dnaIndex(b byte) int {
	switch b {
	case 'A', 'a':
		return 0
	case 'C', 'c':
		return 1
	case 'G', 'g':
		return 2
	case 'T', 't':
		return 3
	default:
		return -1
	}
}

func newNode() acNode {
	return acNode{next: [4]int{-1, -1, -1, -1}}
}

// NewAutomaton строит автомат. Шаблоны с символами вне алфавита
// и пустые шаблоны никогда не находятся.
func NewAutomaton(patterns ...string) *Automaton {
	a := &Automaton{nodes: []acNode{newNode()}, patterns: patterns}

	for pi, p := range patterns {
		if p == "" {
			continue
		}
		cur, ok := 0, true
		for i := 0; i < len(p); i++ {
			c := dnaIndex(p[i])
			if c < 0 {
				ok = false
				break
			}
			if a.nodes[cur].next[c] < 0 {
				a.nodes = append(a.nodes, newNode())
				a.nodes[cur].next[c] = len(a.nodes) - 1
			}
			cur = a.nodes[cur].next[c]
		}
		if ok {
			a.nodes[cur].out = append(a.nodes[cur].out, pi)
		}
	}

	// BFS: ссылки неудачи и полные переходы (goto-функция)
	queue := make([]int, 0, len(a.nodes))
	for c := 0; c < 4; c++ {
		if child := a.nodes[0].next[c]; child >= 0 {
			a.nodes[child].fail = 0
			queue = append(queue, child)
		} else {
			a.nodes[0].next[c] = 0
		}
	}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		for c := 0; c < 4; c++ {
			s := a.nodes[r].next[c]
			if s < 0 {
				a.nodes[r].next[c] = a.nodes[a.nodes[r].fail].next[c]
				continue
			}
			queue = append(queue, s)
			f := a.nodes[a.nodes[r].fail].next[c]
			a.nodes[s].fail = f
			a.nodes[s].out = append(a.nodes[s].out, a.nodes[f].out...)
		}
	}
	return a
}

// Hit - вхождение шаблона Pattern, начинающееся с позиции Pos.
type Hit struct {
	Pos     int
	Pattern int
}

// Scan возвращает все вхождения всех шаблонов в порядке их окончания.
func (a *Automaton) Scan(text string) []Hit {
	var hits []Hit
	state := 0
	for i := 0; i < len(text); i++ {
		c := dnaIndex(text[i])
		if c < 0 {
			state = 0
			continue
		}
		state = a.nodes[state].next[c]
		for _, pi := range a.nodes[state].out {
			hits = append(hits, Hit{Pos: i - len(a.patterns[pi]) + 1, Pattern: pi})
		}
	}
	return hits
}

// AhoCorasick - поиск одного шаблона через автомат.
func AhoCorasick(text, pattern string) []int {
	if pattern == "" || len(text) < len(pattern) {
		return nil
	}
	hits := NewAutomaton(pattern).Scan(text)
	if len(hits) == 0 {
		return nil
	}
	positions := make([]int, len(hits))
	for i, h := range hits {
		positions[i] = h.Pos
	}
	return positions
}
