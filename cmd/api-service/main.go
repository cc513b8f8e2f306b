package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shortkit/shortkit/internal"
	"github.com/shortkit/shortkit/internal/alias"
	"github.com/shortkit/shortkit/internal/cache"
	"github.com/shortkit/shortkit/internal/events"
	"github.com/shortkit/shortkit/internal/httpapi"
	applog "github.com/shortkit/shortkit/internal/logger"
	"github.com/shortkit/shortkit/internal/store"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		slog.Warn(".env file not found, relying on env vars", "err", err)
	}

	applog.InitFromEnv()

	db, err := openDB()
	if err != nil {
		slog.Error("Unable to connect to database", "err", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(&internal.URLMapping{}, &internal.DailyStat{}, &internal.CodeAnalytics{}); err != nil {
		slog.Error("Failed to auto-migrate database", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st := store.New(db)
	alloc := alias.New(st)

	var redirectCache httpapi.RedirectCache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Unable to connect to Redis", "err", err)
			os.Exit(1)
		}
		redirectCache = cache.New(rdb, time.Hour)
	} else {
		slog.Warn("REDIS_ADDR not set, redirect cache disabled")
	}

	var publisher events.Publisher = events.Noop{}
	if url := os.Getenv("RABBITMQ_URL"); url != "" {
		rabbitConn, err := amqp091.Dial(url)
		if err != nil {
			slog.Error("Unable to connect to RabbitMQ", "err", err)
			os.Exit(1)
		}
		defer rabbitConn.Close()

		rabbitCH, err := rabbitConn.Channel()
		if err != nil {
			slog.Error("Unable to open RabbitMQ channel", "err", err)
			os.Exit(1)
		}
		defer rabbitCH.Close()

		publisher, err = events.NewAMQPPublisher(rabbitCH, getenvDefault("CLICK_QUEUE_NAME", "click_events"))
		if err != nil {
			slog.Error("Failed to declare click queue", "err", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("RABBITMQ_URL not set, click event stream disabled")
	}

	app := fiber.New()
	app.Use(applog.FiberMiddleware())
	app.Use(cors.New())

	handlers := &httpapi.Handlers{
		Store:  st,
		Alloc:  alloc,
		Cache:  redirectCache,
		Events: publisher,
		Domain: getenvDefault("APP_DOMAIN", "http://localhost:8080"),
	}
	handlers.Register(app)

	addr := getenvDefault("API_SERVICE_PORT", ":8080")
	slog.Info("Starting API Service", "addr", addr)
	if err := app.Listen(addr); err != nil {
		slog.Error("API Service failed", "err", err)
		os.Exit(1)
	}
}

func openDB() (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:         applog.NewGormLogger(os.Getenv("GORM_LOG_LEVEL")),
		TranslateError: true,
	}
	if os.Getenv("DB_DRIVER") == "sqlite" {
		return gorm.Open(sqlite.Open(getenvDefault("DB_URL", "urls.db")), cfg)
	}
	return gorm.Open(postgres.Open(os.Getenv("DB_URL")), cfg)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
