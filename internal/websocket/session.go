package websocket

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
	"github.com/rajivgeraev/flippy-market/internal/services/chat"
	"github.com/rajivgeraev/flippy-market/internal/services/listing"
)

// defaultScreen экран ленты, если клиент не назвал свой
const defaultScreen = "feed"

// ChatAccess проверка доступа пользователя к переписке
type ChatAccess interface {
	Authorize(ctx context.Context, id auth.Identity, chatID string) error
}

// Screens зависимости живых экранов сессии
type Screens struct {
	Listings     listing.RemoteCollection
	Owner        listing.OwnerStore
	Publisher    listing.Publisher
	Cache        chat.Store
	Feed         chat.Feed
	Connectivity chat.Connectivity
	Access       ChatAccess
}

// Command входящая команда клиента
type Command struct {
	Type      string `json:"type"`
	Screen    string `json:"screen,omitempty"`
	Category  string `json:"category,omitempty"`
	City      string `json:"city,omitempty"`
	Query     string `json:"query,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	ListingID string `json:"listing_id,omitempty"`
	Text      string `json:"text,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

const (
	CmdFeedStart   = "feed.start"
	CmdFeedFilter  = "feed.filter"
	CmdFeedStop    = "feed.stop"
	CmdChatOpen    = "chat.open"
	CmdChatSend    = "chat.send"
	CmdChatClose   = "chat.close"
	CmdMyAdsOpen   = "my_ads.open"
	CmdMyAdsSearch = "my_ads.search"
	CmdMyAdsDelete = "my_ads.delete"
)

type feedScreen struct {
	sync  *listing.Synchronizer
	token listing.Token
}

// Session живые экраны одного соединения. Все подписки закрываются в Close.
type Session struct {
	userID   string
	identity auth.Identity
	screens  *Screens
	emit     func(Event)
	log      *zap.Logger

	mu     sync.Mutex
	closed bool
	feeds  map[string]*feedScreen
	chats  map[string]*chat.Reconciler
	myAds  *listing.MyAds
}

// NewSession создает сессию пользователя; emit отправляет событие клиенту
func NewSession(userID string, screens *Screens, emit func(Event), log *zap.Logger) *Session {
	return &Session{
		userID:   userID,
		identity: auth.Static(userID),
		screens:  screens,
		emit:     emit,
		log:      logger.OrNop(log).With(zap.String("user_id", userID)),
		feeds:    map[string]*feedScreen{},
		chats:    map[string]*chat.Reconciler{},
	}
}

// Handle выполняет команду клиента. Ошибки уходят клиенту событием error.
func (s *Session) Handle(ctx context.Context, raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.log.Debug("Неверный формат команды", zap.Error(err))
		s.emit(Event{Type: EventError, Error: "Неверный формат команды"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if err := s.dispatch(ctx, cmd); err != nil {
		if errs.KindOf(err) == errs.KindUnknown {
			s.log.Error("❌ Ошибка выполнения команды", zap.String("type", cmd.Type), zap.Error(err))
		}
		s.emit(Event{
			Type:   EventError,
			Screen: cmd.Screen,
			ChatID: cmd.ChatID,
			Error:  errs.Message(err),
			Kind:   errs.KindOf(err).String(),
		})
	}
}

func (s *Session) dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CmdFeedStart:
		return s.startFeed(ctx, screenName(cmd.Screen), listing.Scope{Category: cmd.Category})
	case CmdFeedFilter:
		f, ok := s.feeds[screenName(cmd.Screen)]
		if !ok {
			return errs.NotFound("feed.filter", "Лента не открыта")
		}
		f.sync.SetFilter(listing.Criteria{City: cmd.City, Query: cmd.Query})
		return nil
	case CmdFeedStop:
		return s.stopFeed(screenName(cmd.Screen))
	case CmdChatOpen:
		return s.openChat(ctx, cmd.ChatID)
	case CmdChatSend:
		return s.sendMessage(ctx, cmd)
	case CmdChatClose:
		s.closeChat(cmd.ChatID)
		return nil
	case CmdMyAdsOpen:
		if s.myAds == nil {
			s.myAds = listing.NewMyAds(s.screens.Owner, s.screens.Publisher, s.identity, s.log,
				func(listings []models.Listing) { s.emit(newEvent(EventMyAds, "", "", listings)) })
		}
		_, err := s.myAds.Load(ctx)
		return err
	case CmdMyAdsSearch:
		if s.myAds == nil {
			return errs.NotFound("my_ads.search", "Список объявлений не открыт")
		}
		s.myAds.Search(cmd.Query)
		return nil
	case CmdMyAdsDelete:
		if s.myAds == nil {
			return errs.NotFound("my_ads.delete", "Список объявлений не открыт")
		}
		return s.myAds.Delete(ctx, cmd.ListingID)
	default:
		return errs.Validation("session", "type", "Неизвестная команда")
	}
}

func (s *Session) startFeed(ctx context.Context, name string, scope listing.Scope) error {
	f, ok := s.feeds[name]
	if !ok {
		f = &feedScreen{}
		f.sync = listing.NewSynchronizer(s.screens.Listings, s.log, func(v listing.View) {
			e := newEvent(EventFeedView, name, "", v)
			if v.Err != nil {
				e.Disconnected = v.Disconnected()
				e.Error = "Нет соединения, показаны последние данные"
			}
			s.emit(e)
		})
		s.feeds[name] = f
	}

	tok, err := f.sync.Start(ctx, scope)
	if err != nil {
		return err
	}
	f.token = tok
	return nil
}

func (s *Session) stopFeed(name string) error {
	f, ok := s.feeds[name]
	if !ok {
		return nil
	}
	delete(s.feeds, name)
	return f.sync.Stop(f.token)
}

func (s *Session) openChat(ctx context.Context, chatID string) error {
	if err := s.screens.Access.Authorize(ctx, s.identity, chatID); err != nil {
		return err
	}

	r, ok := s.chats[chatID]
	if !ok {
		r = chat.NewReconciler(chatID, s.screens.Cache, s.screens.Feed, s.screens.Connectivity, s.identity, s.log,
			func(snap chat.Snapshot) {
				e := newEvent(EventChatSnapshot, "", chatID, snap)
				e.Disconnected = snap.Disconnected
				s.emit(e)
			})
		s.chats[chatID] = r
	}
	return r.Open(ctx)
}

func (s *Session) sendMessage(ctx context.Context, cmd Command) error {
	draft := chat.Draft{Text: cmd.Text, ImageURL: cmd.ImageURL}

	var (
		msg models.Message
		err error
	)
	if r, ok := s.chats[cmd.ChatID]; ok {
		msg, err = r.SendMessage(ctx, draft)
	} else {
		if err := s.screens.Access.Authorize(ctx, s.identity, cmd.ChatID); err != nil {
			return err
		}
		msg, err = chat.Send(ctx, s.screens.Feed, s.identity, cmd.ChatID, draft, time.Now)
	}
	if err != nil {
		return err
	}
	s.emit(newEvent(EventMessageSent, "", cmd.ChatID, msg))
	return nil
}

func (s *Session) closeChat(chatID string) {
	r, ok := s.chats[chatID]
	if !ok {
		return
	}
	delete(s.chats, chatID)
	s.teardownChat(r)
}

func (s *Session) teardownChat(r *chat.Reconciler) {
	if r.Dirty() {
		if err := r.Flush(); err != nil {
			s.log.Warn("⚠️ Кеш переписки не сохранен", zap.String("chat_id", r.ChatID()), zap.Error(err))
		}
	}
	r.Close()
}

// Close закрывает все экраны сессии. Повторный вызов ничего не делает.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	for name, f := range s.feeds {
		if err := f.sync.Stop(f.token); err != nil {
			s.log.Warn("⚠️ Ошибка при закрытии ленты", zap.String("screen", name), zap.Error(err))
		}
	}
	for _, r := range s.chats {
		s.teardownChat(r)
	}
	s.feeds = map[string]*feedScreen{}
	s.chats = map[string]*chat.Reconciler{}
	s.myAds = nil
}

// Open количество открытых экранов лент и переписок
func (s *Session) Open() (feeds, chats int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds), len(s.chats)
}

func screenName(name string) string {
	if name == "" {
		return defaultScreen
	}
	return name
}
