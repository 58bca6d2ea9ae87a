// Package reconciler реализует кэш запросов с оптимистичными обновлениями:
// изменение применяется к кэшу сразу, затем подтверждается сервером или откатывается
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asquebay/farm-market/internal/lib/logger"
)

// Entity — элемент кэшируемой коллекции
// E должен быть значимым типом без разделяемых ссылок: снимки копируются поверхностно
type Entity interface {
	EntityID() string
}

// Patch — частичное изменение одной сущности
type Patch[E Entity] interface {
	EntityID() string
	Apply(E) E
}

// Fetcher загружает актуальное значение ключа с сервера
type Fetcher[E Entity] func(ctx context.Context, key Key) ([]E, error)

// Key — идентичность запроса, например ["dashboard", farmerID]
type Key []string

func (k Key) String() string {
	return strings.Join(k, "/")
}

// id — ключ map; разделитель не встречается в частях ключа
func (k Key) id() string {
	return strings.Join(k, "\x1f")
}

// Matcher выбирает ключи кэша
type Matcher func(Key) bool

// Exact совпадает только с указанным ключом
func Exact(key Key) Matcher {
	want := key.id()
	return func(k Key) bool { return k.id() == want }
}

// Prefix совпадает со всеми ключами, начинающимися с parts
func Prefix(parts ...string) Matcher {
	return func(k Key) bool {
		return len(k) >= len(parts) && slices.Equal(k[:len(parts)], parts)
	}
}

// AnyOf совпадает, если совпал хотя бы один из matchers
func AnyOf(matchers ...Matcher) Matcher {
	return func(k Key) bool {
		for _, m := range matchers {
			if m(k) {
				return true
			}
		}
		return false
	}
}

// State — состояние записи кэша
type State int

const (
	// StateConfirmed — значение совпадает с последним ответом сервера
	StateConfirmed State = iota
	// StateOptimistic — поверх подтверждённого значения лежат неподтверждённые патчи
	StateOptimistic
	// StateReverted — мутация откатилась, ждём перезапроса
	StateReverted
)

func (s State) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	case StateOptimistic:
		return "optimistic"
	case StateReverted:
		return "reverted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type pendingPatch[E Entity] struct {
	id      uint64
	patches []Patch[E]
}

type entry[E Entity] struct {
	key       Key
	confirmed []E
	value     []E
	pending   []pendingPatch[E]
	state     State
	stale     bool
	// время последнего чтения или записи, unix nano
	lastUsed atomic.Int64
}

func (e *entry[E]) touch(now time.Time) {
	e.lastUsed.Store(now.UnixNano())
}

// rebuild пересобирает видимое значение: подтверждённое + ожидающие патчи по порядку
// отдельных снимков нет: откат снимает патч и пересобирает значение заново
func (e *entry[E]) rebuild() {
	value := slices.Clone(e.confirmed)
	for _, p := range e.pending {
		value = applyPatches(value, p.patches)
	}
	e.value = value
}

func (e *entry[E]) removePending(id uint64) (pendingPatch[E], bool) {
	for i, p := range e.pending {
		if p.id == id {
			e.pending = slices.Delete(e.pending, i, i+1)
			return p, true
		}
	}
	return pendingPatch[E]{}, false
}

// Cache — кэш результатов запросов, единственный владелец записей
// создаётся при старте приложения и передаётся явно
type Cache[E Entity] struct {
	mu             sync.RWMutex
	entries        map[string]*entry[E]
	inflight       map[uint64]*txn[E]
	fetch          Fetcher[E]
	refetchTimeout time.Duration
	idleTTL        time.Duration
	maxEntries     int
	nextID         uint64
	now            func() time.Time
	log            *slog.Logger
}

// CacheOption настраивает Cache
type CacheOption[E Entity] func(*Cache[E])

// WithRefetchTimeout ограничивает время принудительного перезапроса одного ключа
func WithRefetchTimeout[E Entity](d time.Duration) CacheOption[E] {
	return func(c *Cache[E]) { c.refetchTimeout = d }
}

// WithIdleTTL задаёт время, после которого Sweep удаляет непрочитанную запись
func WithIdleTTL[E Entity](d time.Duration) CacheOption[E] {
	return func(c *Cache[E]) { c.idleTTL = d }
}

// WithMaxEntries ограничивает число записей; при переполнении удаляется давно не читавшаяся
// записи с ожидающими мутациями не удаляются, поэтому предел может быть временно превышен
func WithMaxEntries[E Entity](n int) CacheOption[E] {
	return func(c *Cache[E]) { c.maxEntries = n }
}

// NewCache создаёт пустой кэш; fetch может быть nil, тогда перезапросов нет
func NewCache[E Entity](fetch Fetcher[E], log *slog.Logger, opts ...CacheOption[E]) *Cache[E] {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Cache[E]{
		entries:  make(map[string]*entry[E]),
		inflight: make(map[uint64]*txn[E]),
		fetch:    fetch,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get возвращает копию видимого значения ключа
func (c *Cache[E]) Get(key Key) ([]E, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key.id()]
	if !ok {
		return nil, false
	}
	e.touch(c.now())
	return slices.Clone(e.value), true
}

// Set записывает ответ сервера; ожидающие патчи остаются поверх него
func (c *Cache[E]) Set(key Key, value []E) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.id()]
	if !ok {
		e = c.addLocked(key)
	}

	e.touch(c.now())
	e.confirmed = slices.Clone(value)
	e.rebuild()
	e.stale = false
	if len(e.pending) == 0 {
		e.state = StateConfirmed
	}
}

// State возвращает состояние записи
func (c *Cache[E]) State(key Key) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key.id()]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// IsStale сообщает, что запись помечена устаревшей и должна быть перезапрошена при чтении
func (c *Cache[E]) IsStale(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key.id()]
	return ok && e.stale
}

// addLocked создаёт запись
// ответ сервера мог быть прочитан до фиксации мутаций, которые ещё отправляются,
// поэтому подходящие под них патчи сразу ложатся поверх нового значения
func (c *Cache[E]) addLocked(key Key) *entry[E] {
	e := &entry[E]{key: slices.Clone(key)}
	for _, id := range slices.Sorted(maps.Keys(c.inflight)) {
		t := c.inflight[id]
		if !t.match(key) {
			continue
		}
		e.pending = append(e.pending, pendingPatch[E]{id: t.id, patches: t.patches})
		e.state = StateOptimistic
		t.keys = append(t.keys, e.key)
	}

	c.entries[key.id()] = e
	c.evictLocked(key.id())
	return e
}

// evictLocked удаляет давно не читавшиеся записи сверх maxEntries, кроме keep
func (c *Cache[E]) evictLocked(keep string) {
	if c.maxEntries <= 0 {
		return
	}
	for len(c.entries) > c.maxEntries {
		victim := ""
		var oldest int64
		for id, e := range c.entries {
			if id == keep || len(e.pending) > 0 {
				continue
			}
			if used := e.lastUsed.Load(); victim == "" || used < oldest {
				victim, oldest = id, used
			}
		}
		if victim == "" {
			return
		}
		delete(c.entries, victim)
	}
}

// Keys возвращает ключи, подходящие под matcher, в стабильном порядке
func (c *Cache[E]) Keys(match Matcher) []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keysLocked(match)
}

func (c *Cache[E]) keysLocked(match Matcher) []Key {
	ids := make([]string, 0, len(c.entries))
	for id, e := range c.entries {
		if match == nil || match(e.key) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	keys := make([]Key, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, slices.Clone(c.entries[id].key))
	}
	return keys
}

// Len возвращает количество записей
func (c *Cache[E]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep удаляет записи без ожидающих мутаций, которые не читались дольше idleTTL,
// и возвращает их число
func (c *Cache[E]) Sweep() int {
	if c.idleTTL <= 0 {
		return 0
	}
	cutoff := c.now().Add(-c.idleTTL).UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if len(e.pending) == 0 && e.lastUsed.Load() < cutoff {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// RunSweeper периодически вызывает Sweep до отмены контекста
// эта функция блокирующая, поэтому она запускается в отдельной горутине
func (c *Cache[E]) RunSweeper(ctx context.Context, interval time.Duration) {
	if c.idleTTL <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				c.log.Debug("idle query cache entries removed",
					slog.Int("removed", removed),
					slog.Int("entries", c.Len()),
				)
			}
		}
	}
}

// Invalidate помечает записи устаревшими
// при force записи сразу перезапрашиваются через Fetcher
func (c *Cache[E]) Invalidate(ctx context.Context, match Matcher, force bool) error {
	const op = "reconciler.Cache.Invalidate"

	c.mu.Lock()
	keys := c.keysLocked(match)
	for _, key := range keys {
		c.entries[key.id()].stale = true
	}
	c.mu.Unlock()

	if !force || c.fetch == nil {
		return nil
	}

	var errs []error
	for _, key := range keys {
		if err := c.Refetch(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}
	return nil
}

// Refetch загружает ключ через Fetcher и записывает результат
func (c *Cache[E]) Refetch(ctx context.Context, key Key) error {
	const op = "reconciler.Cache.Refetch"

	if c.fetch == nil {
		return fmt.Errorf("%s: no fetcher configured", op)
	}

	if c.refetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.refetchTimeout)
		defer cancel()
	}

	value, err := c.fetch(ctx, key)
	if err != nil {
		c.log.Warn("refetch failed", slog.String("op", op), slog.String("key", key.String()), logger.Err(err))
		return fmt.Errorf("%s: key %s: %w", op, key, err)
	}

	c.Set(key, value)
	return nil
}

// txn — одна оптимистичная мутация, затронувшая несколько ключей
// keys меняется только под c.mu
type txn[E Entity] struct {
	id      uint64
	match   Matcher
	patches []Patch[E]
	keys    []Key
}

// keySet совпадает ровно с перечисленными ключами
func keySet(keys []Key) Matcher {
	ids := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		ids[k.id()] = struct{}{}
	}
	return func(k Key) bool {
		_, ok := ids[k.id()]
		return ok
	}
}

// begin применяет патчи ко всем подходящим записям за одну блокировку
// читатели видят либо значение до патча, либо после, но не промежуточное
// до confirm или revert мутация накладывается и на записи, созданные позже
func (c *Cache[E]) begin(match Matcher, patches []Patch[E]) *txn[E] {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	t := &txn[E]{id: c.nextID, match: match, patches: patches}
	c.inflight[t.id] = t

	for _, key := range c.keysLocked(match) {
		e := c.entries[key.id()]
		e.pending = append(e.pending, pendingPatch[E]{id: t.id, patches: patches})
		e.value = applyPatches(e.value, patches)
		e.state = StateOptimistic

		t.keys = append(t.keys, key)
	}

	return t
}

// confirm вкладывает патч в подтверждённое значение и накладывает сущности из ответа сервера
// возвращает все ключи, которых коснулась мутация
func (c *Cache[E]) confirm(t *txn[E], canonical []E) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inflight, t.id)
	for _, key := range t.keys {
		e, ok := c.entries[key.id()]
		if !ok {
			continue
		}
		p, ok := e.removePending(t.id)
		if !ok {
			continue
		}

		e.confirmed = mergeEntities(applyPatches(e.confirmed, p.patches), canonical)
		e.rebuild()
		if len(e.pending) == 0 {
			e.state = StateConfirmed
		}
	}
	return slices.Clone(t.keys)
}

// revert снимает патч со всех затронутых ключей сразу
// более поздние ожидающие патчи остаются видимыми
func (c *Cache[E]) revert(t *txn[E]) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inflight, t.id)
	for _, key := range t.keys {
		e, ok := c.entries[key.id()]
		if !ok {
			continue
		}
		if _, ok := e.removePending(t.id); !ok {
			continue
		}

		e.rebuild()
		if len(e.pending) == 0 {
			e.state = StateReverted
		} else {
			e.state = StateOptimistic
		}
	}
	return slices.Clone(t.keys)
}

func applyPatches[E Entity](items []E, patches []Patch[E]) []E {
	out := slices.Clone(items)
	for i := range out {
		for _, p := range patches {
			if out[i].EntityID() == p.EntityID() {
				out[i] = p.Apply(out[i])
			}
		}
	}
	return out
}

func mergeEntities[E Entity](items []E, canonical []E) []E {
	if len(canonical) == 0 {
		return items
	}

	byID := make(map[string]E, len(canonical))
	for _, c := range canonical {
		byID[c.EntityID()] = c
	}

	out := slices.Clone(items)
	for i := range out {
		if c, ok := byID[out[i].EntityID()]; ok {
			out[i] = c
		}
	}
	return out
}
