package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/rabbitmq/amqp091-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shortkit/shortkit/internal"
	applog "github.com/shortkit/shortkit/internal/logger"
)

const (
	batchSize     = 100
	flushInterval = 2 * time.Second
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
	if err := db.AutoMigrate(&internal.CodeAnalytics{}); err != nil {
		slog.Error("Failed to auto-migrate database", "err", err)
		os.Exit(1)
	}

	rabbitConn, err := amqp091.Dial(os.Getenv("RABBITMQ_URL"))
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

	queueName := getenvDefault("CLICK_QUEUE_NAME", "click_events")
	q, err := rabbitCH.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		slog.Error("Failed to declare queue", "queue", queueName, "err", err)
		os.Exit(1)
	}

	if err := rabbitCH.Qos(batchSize, 0, false); err != nil {
		slog.Error("Failed to set QoS", "err", err)
		os.Exit(1)
	}

	msgs, err := rabbitCH.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		slog.Error("Failed to register consumer", "err", err)
		os.Exit(1)
	}

	slog.Info("Analytics worker started, waiting for click events", "queue", q.Name)
	consume(db, msgs)
}

// consume batches click events and flushes when the batch fills or the
// ticker fires. Batches ack together on commit and requeue together on
// failure.
func consume(db *gorm.DB, msgs <-chan amqp091.Delivery) {
	var events []internal.ClickEvent
	var deliveries []amqp091.Delivery

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				slog.Warn("RabbitMQ channel closed, flushing remaining events")
				flush(db, events, deliveries)
				return
			}
			var event internal.ClickEvent
			if err := json.Unmarshal(d.Body, &event); err != nil {
				slog.Error("Error decoding click event, rejecting", "err", err)
				d.Reject(false)
				continue
			}
			events = append(events, event)
			deliveries = append(deliveries, d)

			if len(events) >= batchSize {
				flush(db, events, deliveries)
				events, deliveries = nil, nil
				ticker.Reset(flushInterval)
			}

		case <-ticker.C:
			if len(events) > 0 {
				slog.Info("Timer flush: processing queued events", "count", len(events))
				flush(db, events, deliveries)
				events, deliveries = nil, nil
			}
		}
	}
}

type agentKey struct {
	code  string
	agent string
}

func flush(db *gorm.DB, events []internal.ClickEvent, deliveries []amqp091.Delivery) {
	if len(events) == 0 {
		return
	}

	counts := make(map[agentKey]int64)
	lastSeen := make(map[agentKey]time.Time)
	for _, event := range events {
		key := agentKey{code: event.ShortCode, agent: event.UserAgent}
		counts[key]++
		if event.Timestamp.After(lastSeen[key]) {
			lastSeen[key] = event.Timestamp
		}
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		for key, count := range counts {
			row := internal.CodeAnalytics{
				ShortCode:  key.code,
				UserAgent:  key.agent,
				ClickCount: count,
				LastSeen:   lastSeen[key],
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "short_code"}, {Name: "user_agent"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"click_count": gorm.Expr("code_analytics.click_count + ?", count),
					"last_seen":   lastSeen[key],
				}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("Failed to process batch, requeueing messages", "count", len(events), "err", err)
		for _, d := range deliveries {
			d.Nack(false, true)
		}
		return
	}

	for _, d := range deliveries {
		d.Ack(false)
	}
	slog.Info("Processed click event batch", "events", len(events), "codes", len(counts))
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
