package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-market/internal/auth"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/logger"
	"github.com/rajivgeraev/flippy-market/internal/models"
	"github.com/rajivgeraev/flippy-market/internal/realtime"
)

// State состояние переписки в реконсилере
type State int

const (
	Uninitialized State = iota
	Loading
	Merging
	Live
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Merging:
		return "merging"
	case Live:
		return "live"
	default:
		return "uninitialized"
	}
}

// MarshalText для JSON событий
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Store локальное хранилище ключ-значение
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Feed удаленная лента сообщений переписки
type Feed interface {
	// Since сообщения с timestamp > after по возрастанию
	Since(ctx context.Context, chatID string, after int64) ([]models.Message, error)
	Subscribe(ctx context.Context, chatID string, onAppend func(models.Message), onErr func(error)) (realtime.Subscription, error)
	Append(ctx context.Context, chatID string, msg models.Message) error
	MarkRead(ctx context.Context, chatID string, key models.MessageKey) error
}

// Connectivity признак связи с удаленной лентой
type Connectivity interface {
	Connected() bool
	Watch(fn func(bool)) func()
}

// CacheKey ключ локального кеша переписки
func CacheKey(chatID string) string {
	return "messages_" + chatID
}

// Snapshot состояние переписки для клиента
type Snapshot struct {
	ChatID       string           `json:"chat_id"`
	State        State            `json:"state"`
	Messages     []models.Message `json:"messages"`
	Disconnected bool             `json:"disconnected"`

	version uint64
}

// Reconciler собирает историю переписки из локального кеша и удаленной ленты:
// без потерь и без повторов, новые сообщения первыми
type Reconciler struct {
	chatID   string
	store    Store
	feed     Feed
	conn     Connectivity
	identity auth.Identity
	log      *zap.Logger
	onChange func(Snapshot)

	// Now источник времени для новых сообщений
	Now func() time.Time
	// OpTimeout ограничение на одну операцию с хранилищем или лентой
	OpTimeout time.Duration

	mu           sync.Mutex
	gen          uint64
	state        State
	hist         *history
	pending      []models.Message
	sub          realtime.Subscription
	unwatch      func()
	ctx          context.Context
	cancel       context.CancelFunc
	dirty        bool
	disconnected bool
	// gap догрузка не удалась: сообщения после gapAfter могли быть
	// пропущены, кеш не продвигается дальше этой границы
	gap          bool
	gapAfter     int64
	catching     bool
	marking      map[models.MessageKey]bool
	version      uint64

	notifyMu     sync.Mutex
	lastNotified uint64
}

// NewReconciler создает реконсилер переписки chatID
func NewReconciler(chatID string, store Store, feed Feed, conn Connectivity, identity auth.Identity, log *zap.Logger, onChange func(Snapshot)) *Reconciler {
	return &Reconciler{
		chatID:    chatID,
		store:     store,
		feed:      feed,
		conn:      conn,
		identity:  identity,
		log:       logger.OrNop(log).Named("chat").With(zap.String("chat_id", chatID)),
		onChange:  onChange,
		Now:       time.Now,
		OpTimeout: 5 * time.Second,
		hist:      newHistory(nil),
		marking:   map[models.MessageKey]bool{},
	}
}

// ChatID идентификатор переписки
func (r *Reconciler) ChatID() string { return r.chatID }

// Open загружает кеш, подписывается на ленту, догружает пропущенное
// и переходит в Live. Повторный Open сначала закрывает текущую сессию.
func (r *Reconciler) Open(ctx context.Context) error {
	if r.State() != Uninitialized {
		r.Close()
	}

	r.mu.Lock()
	r.gen++
	g := r.gen
	r.state = Loading
	r.hist = newHistory(nil)
	r.pending = nil
	r.dirty = false
	r.disconnected = false
	r.gap, r.gapAfter, r.catching = false, 0, false
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Unlock()

	// Loading
	cached := r.loadCache(ctx)

	r.mu.Lock()
	if r.gen != g {
		r.mu.Unlock()
		return nil
	}
	r.hist = newHistory(cached)
	r.state = Merging
	r.mu.Unlock()

	// Merging: подписка открывается до догрузки, ее события копятся в pending
	sub, err := r.feed.Subscribe(ctx, r.chatID,
		func(m models.Message) { r.onAppend(g, m) },
		func(err error) { r.onFeedError(g, err) },
	)
	if err != nil {
		r.mu.Lock()
		stale := r.gen != g
		if !stale {
			r.state = Uninitialized
			r.disconnected = true
		}
		snap := r.snapshotLocked()
		r.mu.Unlock()
		if !stale {
			r.notify(snap)
		}
		return errs.Transient("chat.open", err)
	}

	r.mu.Lock()
	if r.gen != g {
		r.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil
	}
	r.sub = sub
	after := r.hist.newestTimestamp()
	opCtx := r.ctx
	r.mu.Unlock()

	unwatch := r.conn.Watch(func(connected bool) { r.onConnectivity(g, connected) })

	qctx, cancel := context.WithTimeout(opCtx, r.OpTimeout)
	batch, batchErr := r.feed.Since(qctx, r.chatID, after)
	cancel()

	r.mu.Lock()
	if r.gen != g {
		r.mu.Unlock()
		unwatch()
		return nil
	}
	r.unwatch = unwatch
	if batchErr != nil {
		r.log.Warn("⚠️ Не удалось догрузить сообщения, показываем кеш", zap.Error(batchErr))
		r.openGapLocked(after)
	} else {
		// пропуск, открытый ошибкой ленты во время слияния, покрыт этой догрузкой
		r.gap = false
	}
	r.hist.merge(batch)
	r.hist.merge(r.pending)
	r.pending = nil
	r.persistLocked()
	r.state = Live
	if !r.conn.Connected() {
		r.disconnected = true
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.log.Debug("Переписка открыта", zap.Int("messages", len(snap.Messages)))
	r.notify(snap)
	r.reconcileRead(g)
	return nil
}

// Close закрывает подписку и возвращает переписку в Uninitialized.
// Поздние события закрытой подписки не меняют состояние.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.gen++
	if r.dirty {
		r.persistLocked()
	}
	sub, unwatch, cancel := r.sub, r.unwatch, r.cancel
	r.sub, r.unwatch, r.cancel = nil, nil, nil
	r.state = Uninitialized
	r.hist = newHistory(nil)
	r.pending = nil
	r.disconnected = false
	r.gap, r.gapAfter, r.catching = false, 0, false
	r.marking = map[models.MessageKey]bool{}
	r.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			r.log.Warn("⚠️ Ошибка при закрытии подписки", zap.Error(err))
		}
	}
	if cancel != nil {
		cancel()
	}
}

// State текущее состояние
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot текущая история и сигналы
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Dirty последняя запись в кеш не удалась и ждет повтора
func (r *Reconciler) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// Flush повторяет неудавшуюся запись в кеш
func (r *Reconciler) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil
	}
	return r.persistLocked()
}

// Reconcile повторяет незавершенную догрузку и проход по состоянию прочтения
func (r *Reconciler) Reconcile() {
	r.mu.Lock()
	g := r.gen
	r.mu.Unlock()
	r.retryCatchUp(g)
	r.reconcileRead(g)
}

// SendMessage отправляет сообщение в удаленную ленту.
// В историю оно попадает, когда лента его вернет.
func (r *Reconciler) SendMessage(ctx context.Context, draft Draft) (models.Message, error) {
	return Send(ctx, r.feed, r.identity, r.chatID, draft, r.Now)
}

func (r *Reconciler) onAppend(g uint64, m models.Message) {
	r.mu.Lock()
	if r.gen != g {
		r.mu.Unlock()
		return
	}
	switch r.state {
	case Merging:
		r.pending = append(r.pending, m)
		r.mu.Unlock()
		return
	case Live:
	default:
		r.mu.Unlock()
		return
	}

	if !r.hist.add(m) {
		gap := r.gap
		r.mu.Unlock()
		if gap {
			r.retryCatchUp(g)
		}
		return
	}
	r.persistLocked()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snap)
	r.retryCatchUp(g)
	r.reconcileRead(g)
}

func (r *Reconciler) onFeedError(g uint64, err error) {
	r.mu.Lock()
	if r.gen != g {
		r.mu.Unlock()
		return
	}
	r.openGapLocked(r.hist.newestTimestamp())
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.log.Warn("⚠️ Лента сообщений недоступна, показываем последнюю историю", zap.Error(err))
	r.notify(snap)
}

func (r *Reconciler) onConnectivity(g uint64, connected bool) {
	r.mu.Lock()
	if r.gen != g {
		r.mu.Unlock()
		return
	}
	// Пока пропуск не догружен, история остается устаревшей
	disconnected := !connected || r.gap
	changed := r.disconnected != disconnected
	r.disconnected = disconnected
	var snap Snapshot
	if changed {
		snap = r.snapshotLocked()
	}
	r.mu.Unlock()

	if changed {
		r.notify(snap)
	}
	if connected {
		r.retryCatchUp(g)
		r.reconcileRead(g)
	}
}

// openGapLocked запоминает границу, с которой нужно повторить догрузку.
// Уже открытый пропуск не сдвигается.
func (r *Reconciler) openGapLocked(after int64) {
	r.disconnected = true
	if r.gap {
		return
	}
	r.gap = true
	r.gapAfter = after
}

// retryCatchUp повторяет догрузку с границы пропуска.
// Одновременно идет не больше одной догрузки; при успехе пропуск закрывается
// и сигнал отключения снимается, если связь есть.
func (r *Reconciler) retryCatchUp(g uint64) {
	r.mu.Lock()
	if r.gen != g || r.state != Live || !r.gap || r.catching {
		r.mu.Unlock()
		return
	}
	r.catching = true
	after := r.gapAfter
	opCtx := r.ctx
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(opCtx, r.OpTimeout)
	batch, err := r.feed.Since(ctx, r.chatID, after)
	cancel()

	r.mu.Lock()
	if r.gen != g {
		r.mu.Unlock()
		return
	}
	r.catching = false
	if err != nil {
		r.mu.Unlock()
		r.log.Warn("⚠️ Повторная догрузка сообщений не удалась", zap.Int64("after", after), zap.Error(err))
		return
	}
	r.hist.merge(batch)
	r.gap = false
	r.disconnected = !r.conn.Connected()
	r.persistLocked()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.log.Info("✅ Пропущенные сообщения догружены", zap.Int("messages", len(batch)))
	r.notify(snap)
	r.reconcileRead(g)
}

// reconcileRead отмечает прочитанным самое новое сообщение собеседника.
// Одновременно идет не больше одной отметки на сообщение; при ошибке
// отметка повторится на следующем проходе.
func (r *Reconciler) reconcileRead(g uint64) {
	userID, ok := auth.Require(r.identity)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.gen != g || r.state != Live {
		r.mu.Unlock()
		return
	}
	newest, ok := r.hist.newest()
	if !ok || newest.Sender == userID || !newest.Unread || r.marking[newest.Key()] {
		r.mu.Unlock()
		return
	}
	key := newest.Key()
	r.marking[key] = true
	opCtx := r.ctx
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(opCtx, r.OpTimeout)
	err := r.feed.MarkRead(ctx, r.chatID, key)
	cancel()

	r.mu.Lock()
	if r.gen != g {
		r.mu.Unlock()
		return
	}
	delete(r.marking, key)
	if err != nil {
		r.mu.Unlock()
		r.log.Warn("⚠️ Не удалось отметить сообщение прочитанным", zap.Error(err))
		return
	}
	if !r.hist.markRead(key) {
		r.mu.Unlock()
		return
	}
	r.persistLocked()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snap)
}

func (r *Reconciler) loadCache(ctx context.Context) []models.Message {
	ctx, cancel := context.WithTimeout(ctx, r.OpTimeout)
	defer cancel()

	blob, found, err := r.store.Get(ctx, CacheKey(r.chatID))
	if err != nil {
		r.log.Warn("⚠️ Не удалось прочитать кеш переписки, начинаем с пустого",
			zap.Error(errs.Persistence("chat.cache.read", err)))
		return nil
	}
	if !found {
		return nil
	}
	var cached []models.Message
	if err := json.Unmarshal(blob, &cached); err != nil {
		r.log.Warn("⚠️ Кеш переписки поврежден, начинаем с пустого",
			zap.Error(errs.Persistence("chat.cache.decode", err)))
		return nil
	}
	return cached
}

// persistLocked записывает историю целиком; ошибка помечает кеш грязным.
// При открытом пропуске пишутся только сообщения до его границы, чтобы
// следующая догрузка началась с нее.
func (r *Reconciler) persistLocked() error {
	msgs := r.hist.messages
	if r.gap {
		msgs = make([]models.Message, 0, len(r.hist.messages))
		for _, m := range r.hist.messages {
			if m.Timestamp <= r.gapAfter {
				msgs = append(msgs, m)
			}
		}
	}
	blob, err := json.Marshal(msgs)
	if err != nil {
		r.dirty = true
		return errs.Persistence("chat.cache.encode", err)
	}

	base := r.ctx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(base), r.OpTimeout)
	defer cancel()

	if err := r.store.Set(ctx, CacheKey(r.chatID), blob); err != nil {
		r.dirty = true
		perr := errs.Persistence("chat.cache.write", err)
		r.log.Warn("⚠️ Не удалось сохранить кеш переписки, повторим при следующем изменении", zap.Error(perr))
		return perr
	}
	r.dirty = false
	return nil
}

func (r *Reconciler) snapshotLocked() Snapshot {
	r.version++
	return Snapshot{
		ChatID:       r.chatID,
		State:        r.state,
		Messages:     r.hist.snapshot(),
		Disconnected: r.disconnected,
		version:      r.version,
	}
}

func (r *Reconciler) notify(s Snapshot) {
	if r.onChange == nil {
		return
	}
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	// Снимок, собранный раньше уже отправленного, устарел
	if s.version <= r.lastNotified {
		return
	}
	r.lastNotified = s.version
	r.onChange(s)
}
