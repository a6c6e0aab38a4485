package listing

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-market/internal/db"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/logger"
	"github.com/rajivgeraev/flippy-market/internal/models"
	"github.com/rajivgeraev/flippy-market/internal/realtime"
)

// Querier одноразовые запросы к коллекции объявлений
type Querier interface {
	List(ctx context.Context, q db.ListingQuery) ([]models.Listing, error)
}

// BusCollection удаленная коллекция: снимки читаются из Postgres,
// сигнал на перечитывание приходит через шину событий
type BusCollection struct {
	store        Querier
	broker       realtime.Broker
	log          *zap.Logger
	queryTimeout time.Duration
}

// NewBusCollection создает коллекцию
func NewBusCollection(store Querier, broker realtime.Broker, log *zap.Logger) *BusCollection {
	return &BusCollection{
		store:        store,
		broker:       broker,
		log:          logger.OrNop(log).Named("listing_collection"),
		queryTimeout: 5 * time.Second,
	}
}

// ByCategory одноразовый запрос по категории
func (c *BusCollection) ByCategory(ctx context.Context, category string) ([]models.Listing, error) {
	return c.store.List(ctx, db.ListingQuery{Category: category})
}

// Subscribe отдает первый снимок сразу, затем новый полный снимок
// после каждого изменения в области и после восстановления связи.
// Частые изменения схлопываются в одно перечитывание.
func (c *BusCollection) Subscribe(ctx context.Context, scope Scope, onSnapshot func(Snapshot), onErr func(error)) (realtime.Subscription, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &collectionWatch{
		c:          c,
		scope:      scope,
		onSnapshot: onSnapshot,
		onErr:      onErr,
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		cancel:     cancel,
	}

	sub, err := c.broker.Subscribe(realtime.SubjectListingsChanged, w.handleChange)
	if err != nil {
		cancel()
		return nil, err
	}
	w.sub = sub
	w.unwatch = c.broker.Connectivity().Watch(w.connectivityChanged)

	w.wg.Add(1)
	go w.run(ctx)
	w.trigger()
	return w, nil
}

type collectionWatch struct {
	c          *BusCollection
	scope      Scope
	onSnapshot func(Snapshot)
	onErr      func(error)

	kick    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	sub     realtime.Subscription
	unwatch func()
	wg      sync.WaitGroup
	once    sync.Once
}

func (w *collectionWatch) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-w.kick:
			w.refresh(ctx)
		}
	}
}

func (w *collectionWatch) refresh(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, w.c.queryTimeout)
	defer cancel()

	listings, err := w.c.store.List(qctx, db.ListingQuery{Category: w.scope.Category})

	select {
	case <-w.done:
		return
	default:
	}
	if err != nil {
		w.onErr(err)
		return
	}
	snap := make(Snapshot, len(listings))
	for _, l := range listings {
		snap[l.ID] = l
	}
	w.onSnapshot(snap)
}

func (w *collectionWatch) trigger() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *collectionWatch) handleChange(data []byte) {
	var change models.ListingChange
	if err := json.Unmarshal(data, &change); err != nil {
		w.c.log.Warn("⚠️ Некорректное событие изменения объявления", zap.Error(err))
		return
	}
	if change.Touches(w.scope.Category) {
		w.trigger()
	}
}

func (w *collectionWatch) connectivityChanged(connected bool) {
	if connected {
		w.trigger()
		return
	}
	select {
	case <-w.done:
	default:
		w.onErr(errs.Transient("listing_collection.watch", errNoConnection))
	}
}

// Unsubscribe останавливает наблюдение и дожидается завершения рабочей горутины
func (w *collectionWatch) Unsubscribe() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.cancel()
		w.unwatch()
		err = w.sub.Unsubscribe()
		w.wg.Wait()
	})
	return err
}

type collectionError string

func (e collectionError) Error() string { return string(e) }

const errNoConnection = collectionError("нет соединения с шиной изменений")
