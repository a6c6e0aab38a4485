package listing

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/logger"
	"github.com/rajivgeraev/flippy-market/internal/models"
	"github.com/rajivgeraev/flippy-market/internal/realtime"
)

// Token дескриптор подписки, выданный Start. Нулевой токен не бывает активным.
type Token uint64

// Scope область подписки на коллекцию объявлений
type Scope struct {
	Category string `json:"category,omitempty"`
}

// Snapshot полное текущее содержимое коллекции: ID -> объявление
type Snapshot map[string]models.Listing

// RemoteCollection удаленная коллекция объявлений с подпиской на полные снимки
type RemoteCollection interface {
	Subscribe(ctx context.Context, scope Scope, onSnapshot func(Snapshot), onErr func(error)) (realtime.Subscription, error)
}

// View производная лента для клиента
type View struct {
	Listings []models.Listing `json:"listings"`
	Criteria Criteria         `json:"criteria"`
	// Err последняя ошибка источника; лента при этом остается прежней
	Err error `json:"-"`

	version uint64
}

// Disconnected источник недоступен, показаны последние известные данные
func (v View) Disconnected() bool {
	return errs.Is(v.Err, errs.KindTransient)
}

// Synchronizer держит локальную копию удаленной коллекции объявлений
// и производную ленту по текущим критериям
type Synchronizer struct {
	remote   RemoteCollection
	log      *zap.Logger
	onChange func(View)

	mu       sync.Mutex
	next     Token
	active   Token
	sub      realtime.Subscription
	scope    Scope
	known    map[string]models.Listing
	criteria Criteria
	view     []models.Listing
	err      error
	version  uint64

	notifyMu     sync.Mutex
	lastNotified uint64
}

// NewSynchronizer создает синхронизатор; onChange вызывается после каждого пересчета ленты
func NewSynchronizer(remote RemoteCollection, log *zap.Logger, onChange func(View)) *Synchronizer {
	return &Synchronizer{
		remote:   remote,
		log:      logger.OrNop(log).Named("listing_feed"),
		onChange: onChange,
		known:    map[string]models.Listing{},
		view:     []models.Listing{},
	}
}

// Start подписывается на коллекцию в заданной области.
// Предыдущая подписка закрывается до открытия новой.
func (s *Synchronizer) Start(ctx context.Context, scope Scope) (Token, error) {
	s.mu.Lock()
	prev := s.sub
	s.sub = nil
	s.next++
	tok := s.next
	s.active = tok
	if scope != s.scope {
		s.known = map[string]models.Listing{}
	}
	s.scope = scope
	s.criteria.Category = scope.Category
	s.err = nil
	view := s.recomputeLocked()
	s.mu.Unlock()

	if prev != nil {
		if err := prev.Unsubscribe(); err != nil {
			s.log.Warn("⚠️ Ошибка при закрытии подписки", zap.Error(err))
		}
	}
	s.notify(view)

	sub, err := s.remote.Subscribe(ctx, scope,
		func(snap Snapshot) { s.OnRemoteSnapshot(tok, snap) },
		func(err error) { s.OnRemoteError(tok, err) },
	)
	if err != nil {
		s.mu.Lock()
		if s.active == tok {
			s.active = 0
		}
		s.mu.Unlock()
		return 0, errs.Transient("listing_feed.start", err)
	}

	s.mu.Lock()
	if s.active != tok {
		// Пока подписывались, ленту перезапустили или остановили
		s.mu.Unlock()
		_ = sub.Unsubscribe()
		return tok, nil
	}
	s.sub = sub
	s.mu.Unlock()

	s.log.Debug("Подписка на ленту открыта", zap.Uint64("token", uint64(tok)), zap.String("category", scope.Category))
	return tok, nil
}

// Stop закрывает подписку. Токен, который уже не активен, ничего не делает.
func (s *Synchronizer) Stop(tok Token) error {
	s.mu.Lock()
	if tok == 0 || tok != s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = 0
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return errs.Transient("listing_feed.stop", err)
	}
	return nil
}

// OnRemoteSnapshot заменяет известные объявления содержимым снимка целиком.
// Снимки от неактивной подписки отбрасываются.
func (s *Synchronizer) OnRemoteSnapshot(tok Token, snap Snapshot) {
	s.mu.Lock()
	if tok == 0 || tok != s.active {
		s.mu.Unlock()
		s.log.Debug("Отброшен снимок неактивной подписки", zap.Uint64("token", uint64(tok)))
		return
	}
	known := make(map[string]models.Listing, len(snap))
	for id, l := range snap {
		if l.ID == "" {
			l.ID = id
		}
		known[id] = l.Clone()
	}
	s.known = known
	s.err = nil
	view := s.recomputeLocked()
	s.mu.Unlock()

	s.notify(view)
}

// OnRemoteError оставляет ленту как есть и выставляет сигнал ошибки
func (s *Synchronizer) OnRemoteError(tok Token, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if tok == 0 || tok != s.active {
		s.mu.Unlock()
		return
	}
	if errs.KindOf(err) == errs.KindUnknown {
		err = errs.Transient("listing_feed.remote", err)
	}
	s.err = err
	view := s.viewLocked()
	s.mu.Unlock()

	s.log.Warn("⚠️ Источник объявлений недоступен, показываем последние данные", zap.Error(err))
	s.notify(view)
}

// SetFilter меняет город и строку поиска; категория задается областью подписки
func (s *Synchronizer) SetFilter(c Criteria) View {
	s.mu.Lock()
	c.Category = s.scope.Category
	s.criteria = c
	view := s.recomputeLocked()
	s.mu.Unlock()

	s.notify(view)
	return view
}

// View текущая производная лента
func (s *Synchronizer) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Known количество известных объявлений
func (s *Synchronizer) Known() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.known)
}

func (s *Synchronizer) recomputeLocked() View {
	s.view = Apply(s.known, s.criteria)
	return s.viewLocked()
}

func (s *Synchronizer) viewLocked() View {
	s.version++
	listings := make([]models.Listing, len(s.view))
	for i, l := range s.view {
		listings[i] = l.Clone()
	}
	return View{Listings: listings, Criteria: s.criteria, Err: s.err, version: s.version}
}

// notify доставляет ленту подписчику, пропуская устаревшие версии
func (s *Synchronizer) notify(v View) {
	if s.onChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if v.version <= s.lastNotified {
		return
	}
	s.lastNotified = v.version
	s.onChange(v)
}
