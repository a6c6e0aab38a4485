package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-market/internal/cache"
	"github.com/rajivgeraev/flippy-market/internal/config"
	"github.com/rajivgeraev/flippy-market/internal/db"
	"github.com/rajivgeraev/flippy-market/internal/logger"
	"github.com/rajivgeraev/flippy-market/internal/mongo"
	"github.com/rajivgeraev/flippy-market/internal/realtime"
	"github.com/rajivgeraev/flippy-market/internal/services/auth"
	"github.com/rajivgeraev/flippy-market/internal/services/chat"
	"github.com/rajivgeraev/flippy-market/internal/services/cloudinary"
	"github.com/rajivgeraev/flippy-market/internal/services/favorite"
	"github.com/rajivgeraev/flippy-market/internal/services/listing"
	"github.com/rajivgeraev/flippy-market/internal/utils"
	"github.com/rajivgeraev/flippy-market/internal/websocket"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.New(config.LogConfig{}).Fatal("❌ Ошибка конфигурации", zap.Error(err))
	}

	log := logger.New(cfg.LogConfig)
	logger.SetDefault(log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Инициализируем базу данных
	pool, err := db.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal("❌ Ошибка при инициализации базы данных", zap.Error(err))
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal("❌ Ошибка миграции базы данных", zap.Error(err))
	}

	// Локальный кеш переписок
	store, err := cache.Connect(ctx, cfg.RedisConfig)
	if err != nil {
		log.Fatal("❌ Ошибка подключения к Redis", zap.Error(err))
	}
	defer store.Close()

	// Хранилище чатов
	mongoClient, err := mongo.Connect(ctx, cfg.MongoConfig, log)
	if err != nil {
		log.Fatal("❌ Ошибка подключения к MongoDB", zap.Error(err))
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(dctx)
	}()

	// Шина изменений
	broker, closeBroker := connectBroker(cfg, log)
	defer closeBroker()

	// Репозитории
	listingRepo := db.NewListingRepository(pool)
	favoriteRepo := db.NewFavoriteRepository(pool)
	userRepo := db.NewUserRepository(pool)
	chatRepo := mongo.NewChatRepository(mongoClient)
	messageFeed := mongo.NewMessageFeed(mongoClient, broker, log)

	// Создаём сервисы
	jwtService := utils.NewJWTService(cfg.JWTSecret)
	cloudinaryService, err := cloudinary.NewCloudinaryService(cfg.CloudinaryConfig, jwtService, log)
	if err != nil {
		log.Fatal("❌ Ошибка инициализации Cloudinary", zap.Error(err))
	}
	authService := auth.NewAuthService(cfg.TelegramBotToken, userRepo, jwtService, log)
	listingService := listing.NewListingService(listingRepo, broker, jwtService, log)
	favoriteService := favorite.NewFavoriteService(favoriteRepo, listingRepo, jwtService, log)
	chatService := chat.NewChatService(chatRepo, messageFeed, listingRepo, userRepo, cloudinaryService, jwtService, log)

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "Flippy Market API",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	// Регистрируем маршруты; защищенные маршруты объявлений раньше публичных
	authService.SetupRoutes(app)
	cloudinaryService.SetupRoutes(app)
	listingService.SetupRoutes(app)
	listingService.SetupPublicRoutes(app)
	favoriteService.SetupRoutes(app)
	chatService.SetupRoutes(app)

	// Живые экраны по WebSocket
	wsManager := websocket.NewManager(&websocket.Screens{
		Listings:     listing.NewBusCollection(listingRepo, broker, log),
		Owner:        listingRepo,
		Publisher:    broker,
		Cache:        store,
		Feed:         messageFeed,
		Connectivity: broker.Connectivity(),
		Access:       chatService,
	}, jwtService, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsManager)
	wsServer := &http.Server{Addr: cfg.WSAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info("✅ WebSocket сервер запущен", zap.String("addr", cfg.WSAddr))
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("❌ Ошибка WebSocket сервера", zap.Error(err))
			stop()
		}
	}()

	go func() {
		log.Info("✅ Flippy Market API запущен", zap.String("addr", cfg.HTTPAddr))
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Error("❌ Ошибка HTTP сервера", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Останавливаем сервер")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsManager.Shutdown()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("⚠️ WebSocket сервер остановлен с ошибкой", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("⚠️ HTTP сервер остановлен с ошибкой", zap.Error(err))
	}
}

// connectBroker подключается к NATS; в разработке без NATS работает локальная шина
func connectBroker(cfg *config.Config, log *zap.Logger) (realtime.Broker, func()) {
	bus, err := realtime.Connect(cfg.NatsConfig, log)
	if err == nil {
		return bus, func() { _ = bus.Close() }
	}
	if cfg.AppEnv != "development" {
		log.Fatal("❌ Ошибка подключения к NATS", zap.Error(err))
	}
	log.Warn("⚠️ NATS недоступен, используем локальную шину", zap.Error(err))
	return realtime.NewLocalBus(), func() {}
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	// Проверяем, является ли ошибка из Fiber
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	// Отправляем ошибку в JSON
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
