package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Timezone for day boundaries and alert timestamps
	Timezone string

	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string

	TelegramBotToken string

	// Optional webhook notified about permanent alert delivery failures
	OperatorWebhookURL string

	// Heartbeat ingress
	HTTPListenAddr string

	// Optional AMQP heartbeat ingress (probe -> MQTT plugin -> amq.topic -> queue)
	AMQPUrl      string
	AMQPExchange string
	AMQPQueue    string

	// Scheduling
	SweepInterval      time.Duration
	HeartbeatRetention time.Duration

	// Alert dispatch retry policy
	AlertMaxAttempts  int
	AlertInitialDelay time.Duration
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		Timezone:                   getEnv("TIMEZONE", "Europe/Kyiv"),
		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		TelegramBotToken:           getEnv("TELEGRAM_BOT_TOKEN", ""),
		OperatorWebhookURL:         getEnv("OPERATOR_WEBHOOK_URL", ""),
		HTTPListenAddr:             getEnv("HTTP_LISTEN_ADDR", ":8080"),
		AMQPUrl:                    getEnv("AMQP_URL", ""),
		AMQPExchange:               getEnv("AMQP_EXCHANGE", "powermon"),
		AMQPQueue:                  getEnv("AMQP_QUEUE", "heartbeat_queue"),
		SweepInterval:              getEnvDuration("SWEEP_INTERVAL", 10*time.Second),
		HeartbeatRetention:         getEnvDuration("HEARTBEAT_RETENTION", 30*24*time.Hour),
		AlertMaxAttempts:           getEnvInt("ALERT_MAX_ATTEMPTS", 3),
		AlertInitialDelay:          getEnvDuration("ALERT_INITIAL_DELAY", time.Second),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
