// Пакет pipeline - конечный автомат одного запроса на поиск.
//
// Прямой путь:
//
//	validating → persisting_inputs → invoking → persisting_outputs → done
//
// Из любого нетерминального состояния допустим переход в aborted.
// done и aborted - терминальные состояния.
package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// State - состояние конвейера поиска.
type State string

const (
	// StateValidating - разбор и проверка загруженного CSV
	StateValidating State = "validating"
	// StatePersistingInputs - запись файла и образцов в БД
	StatePersistingInputs State = "persisting_inputs"
	// StateInvoking - работа внешнего движка
	StateInvoking State = "invoking"
	// StatePersistingOutputs - запись запуска и результатов в БД
	StatePersistingOutputs State = "persisting_outputs"
	// StateDone - запуск успешно сохранён
	StateDone State = "done"
	// StateAborted - запрос прерван с ошибкой
	StateAborted State = "aborted"
)

// TransitionRecord - запись о переходе между состояниями.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMachine - автомат состояний одного запроса.
type StateMachine struct {
	mu      sync.RWMutex
	current State
	history []TransitionRecord
}

// validTransitions - матрица допустимых переходов прямого пути.
// Переход в aborted обрабатывается отдельно.
var validTransitions = map[State]map[State]bool{
	StateValidating:        {StatePersistingInputs: true},
	StatePersistingInputs:  {StateInvoking: true},
	StateInvoking:          {StatePersistingOutputs: true},
	StatePersistingOutputs: {StateDone: true},
	StateDone:              {},
	StateAborted:           {},
}

// New создаёт автомат в начальном состоянии validating.
func New() *StateMachine {
	return &StateMachine{
		current: StateValidating,
		history: make([]TransitionRecord, 0, 5),
	}
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// TransitionTo выполняет переход прямого пути.
// Для прерывания используется Abort.
func (sm *StateMachine) TransitionTo(target State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if target == StateAborted {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: "переход в aborted выполняется через Abort",
		}
	}

	transitions, ok := validTransitions[sm.current]
	if !ok || !transitions[target] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", sm.current, target),
		}
	}

	sm.record(target, "")
	return nil
}

// Abort переводит автомат в aborted из любого нетерминального состояния.
// Возвращает состояние, в котором произошёл сбой.
func (sm *StateMachine) Abort(reason string) (State, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.current
	if isTerminal(from) {
		return from, &TransitionError{
			Code:    "ALREADY_TERMINAL",
			Message: fmt.Sprintf("конвейер уже в терминальном состоянии %s", from),
		}
	}

	sm.record(StateAborted, reason)
	return from, nil
}

// InputsPersisted сообщает, были ли файл и образцы сохранены в БД,
// то есть был ли пройден переход persisting_inputs → invoking.
func (sm *StateMachine) InputsPersisted() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, rec := range sm.history {
		if rec.From == StatePersistingInputs && rec.To == StateInvoking {
			return true
		}
	}
	return false
}

// History возвращает историю переходов (копия).
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

// record добавляет переход в историю. Вызывается под мьютексом.
func (sm *StateMachine) record(target State, reason string) {
	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	sm.current = target
}

// TransitionError - ошибка перехода между состояниями.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, ALREADY_TERMINAL)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func isTerminal(s State) bool {
	return s == StateDone || s == StateAborted
}
