package steps

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// Entity — сущность, найденная детектором (метка, объект, лицо).
type Entity struct {
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence,omitempty"`
}

// EntityCache — кэш дедупликации сущностей.
//
// Живёт одно выполнение шага: создаётся оркестратором и передаётся
// в JobContext. Глобального состояния нет.
type EntityCache struct {
	mu     sync.Mutex
	byKey  map[string]Entity
	order  []string
	folder cases.Caser
	hits   int
}

// NewEntityCache создаёт пустой кэш.
func NewEntityCache() *EntityCache {
	return &EntityCache{
		byKey:  make(map[string]Entity),
		folder: cases.Fold(),
	}
}

// key нормализует имя: без учёта регистра и пробелов по краям.
func (c *EntityCache) key(name string) string {
	return c.folder.String(strings.Join(strings.Fields(name), " "))
}

// Lookup возвращает сущность по имени.
func (c *EntityCache) Lookup(name string) (Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byKey[c.key(name)]
	return e, ok
}

// Remember добавляет сущность и возвращает каноническую запись.
//
// Для уже известного имени сохраняются первые ID и написание,
// Confidence берётся максимальный.
func (c *EntityCache) Remember(e Entity) Entity {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.key(e.Name)
	cur, ok := c.byKey[k]
	if !ok {
		c.byKey[k] = e
		c.order = append(c.order, k)
		return e
	}

	c.hits++
	if cur.ID == "" {
		cur.ID = e.ID
	}
	cur.Confidence = max(cur.Confidence, e.Confidence)
	c.byKey[k] = cur
	return cur
}

// Dedup пропускает список через кэш и возвращает уникальные сущности
// в порядке первого появления.
func (c *EntityCache) Dedup(entities []Entity) []Entity {
	for _, e := range entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		c.Remember(e)
	}
	return c.Entities()
}

// Entities возвращает все сущности кэша в порядке добавления.
func (c *EntityCache) Entities() []Entity {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]Entity, 0, len(c.order))
	for _, k := range c.order {
		result = append(result, c.byKey[k])
	}
	return result
}

// Len возвращает количество уникальных сущностей.
func (c *EntityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// Hits возвращает количество повторов, отсечённых кэшем.
func (c *EntityCache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}
