package steps

import (
	"fmt"
	"slices"
	"sync"

	"github.com/shaiso/mediaflow/internal/domain"
)

// Registry — статическая таблица маршрутизации: тип шага → Processor.
//
// Заполняется при старте worker'а из конфигурации. Потокобезопасен.
type Registry struct {
	mu         sync.RWMutex
	processors map[domain.StepType]Processor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[domain.StepType]Processor),
	}
}

// Register регистрирует процессор для типа шага.
// Если процессор для типа уже есть, он будет перезаписан.
func (r *Registry) Register(stepType domain.StepType, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[stepType] = p
}

// Get возвращает процессор по типу.
// Возвращает ErrUnknownStepType, если тип не зарегистрирован.
func (r *Registry) Get(stepType domain.StepType) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.processors[stepType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStepType, stepType)
	}
	return p, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(stepType domain.StepType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.processors[stepType]
	return exists
}

// Types возвращает отсортированный список зарегистрированных типов.
func (r *Registry) Types() []domain.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.StepType, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Count возвращает количество зарегистрированных типов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.processors)
}

// NewHTTPRegistry строит таблицу маршрутизации из настроек HTTP процессоров.
func NewHTTPRegistry(routes map[domain.StepType]HTTPConfig) (*Registry, error) {
	r := NewRegistry()
	for stepType, cfg := range routes {
		p, err := NewHTTPProcessor(cfg)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", stepType, err)
		}
		r.Register(stepType, p)
	}
	return r, nil
}
