package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/asquebay/farm-market/internal/lib/logger"
)

// DefaultCooldown — пауза перед фоновой пометкой устаревания после успешной мутации
const DefaultCooldown = 5 * time.Second

var errNoSend = errors.New("mutation has no send function")

// ErrorKind — машиночитаемый вид ошибки мутации
type ErrorKind string

const (
	KindNotFound    ErrorKind = "not_found"
	KindInvalid     ErrorKind = "invalid"
	KindConflict    ErrorKind = "conflict"
	KindUnavailable ErrorKind = "unavailable"
	KindInternal    ErrorKind = "internal"
)

// MutationError возвращается вызывающему после того, как откат уже применён
type MutationError struct {
	Kind ErrorKind
	Keys []Key
	Err  error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("optimistic mutation failed (%s): %v", e.Kind, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// Classifier определяет вид ошибки отправки
type Classifier func(error) ErrorKind

// Mutation — изменение, которое нужно показать сразу и затем отправить
type Mutation[E Entity] struct {
	// Match выбирает все закэшированные коллекции, содержащие сущность
	Match   Matcher
	Patches []Patch[E]
	// Send выполняет запись и возвращает канонические сущности
	Send func(ctx context.Context) ([]E, error)
}

// Reconciler применяет мутации оптимистично и сводит их с ответом сервера
type Reconciler[E Entity] struct {
	cache    *Cache[E]
	cooldown time.Duration
	classify Classifier
	log      *slog.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

// Option настраивает Reconciler
type Option[E Entity] func(*Reconciler[E])

// WithCooldown задаёт паузу перед отложенной инвалидацией
func WithCooldown[E Entity](d time.Duration) Option[E] {
	return func(r *Reconciler[E]) { r.cooldown = d }
}

// WithClassifier задаёт функцию определения вида ошибки
func WithClassifier[E Entity](fn Classifier) Option[E] {
	return func(r *Reconciler[E]) { r.classify = fn }
}

// New создаёт Reconciler поверх кэша
func New[E Entity](cache *Cache[E], log *slog.Logger, opts ...Option[E]) *Reconciler[E] {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	r := &Reconciler[E]{
		cache:    cache,
		cooldown: DefaultCooldown,
		classify: func(error) ErrorKind { return KindInternal },
		log:      log,
		timers:   make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache возвращает кэш, которым владеет Reconciler
func (r *Reconciler[E]) Cache() *Cache[E] {
	return r.cache
}

// Apply применяет патчи ко всем подходящим записям, отправляет мутацию и
// подтверждает или откатывает её; отмена уже отправленной мутации не поддерживается
func (r *Reconciler[E]) Apply(ctx context.Context, m Mutation[E]) ([]E, error) {
	const op = "reconciler.Reconciler.Apply"
	log := r.log.With(slog.String("op", op))

	if m.Send == nil {
		return nil, fmt.Errorf("%s: %w", op, errNoSend)
	}
	match := m.Match
	if match == nil {
		match = func(Key) bool { return false }
	}

	t := r.cache.begin(match, m.Patches)
	log = log.With(slog.Uint64("mutation_id", t.id))
	log.Debug("optimistic patch applied")

	canonical, err := m.Send(ctx)
	if err != nil {
		keys := r.cache.revert(t)
		log.Warn("mutation failed, optimistic patch reverted", slog.Int("keys", len(keys)), logger.Err(err))

		if len(keys) > 0 {
			// перезапрос не должен зависеть от отменённого контекста запроса
			refetchCtx := context.WithoutCancel(ctx)
			if ierr := r.cache.Invalidate(refetchCtx, keySet(keys), true); ierr != nil {
				log.Warn("forced refetch after revert failed", logger.Err(ierr))
			}
		}

		return nil, &MutationError{Kind: r.classify(err), Keys: keys, Err: err}
	}

	keys := r.cache.confirm(t, canonical)
	log.Debug("mutation confirmed", slog.Int("keys", len(keys)))

	// ключ, впервые прочитанный после подтверждения, мог получить ответ, начатый до записи
	r.scheduleInvalidate(match)

	return canonical, nil
}

// scheduleInvalidate помечает ключи устаревшими после паузы, без немедленного перезапроса,
// чтобы не перетереть оптимистичное значение ответом, стоявшим в очереди за мутацией
func (r *Reconciler[E]) scheduleInvalidate(match Matcher) {
	if r.cooldown <= 0 {
		_ = r.cache.Invalidate(context.Background(), match, false)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(r.cooldown, func() {
		r.mu.Lock()
		delete(r.timers, timer)
		r.mu.Unlock()

		_ = r.cache.Invalidate(context.Background(), match, false)
	})
	r.timers[timer] = struct{}{}
}

// Close останавливает запланированные инвалидации
func (r *Reconciler[E]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for timer := range r.timers {
		timer.Stop()
	}
	clear(r.timers)
}
