package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	apiKey     = flag.String("api-key", "", "API key of the site to impersonate (required)")
	interval   = flag.Duration("interval", 60*time.Second, "Heartbeat interval")
	outageProb = flag.Float64("outage", 0.0, "Probability per heartbeat of starting a simulated outage (0.0-1.0)")
	outageMin  = flag.Duration("outage-min", 5*time.Minute, "Minimum simulated outage length")
	outageMax  = flag.Duration("outage-max", 30*time.Minute, "Maximum simulated outage length")
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = flag.String("user", "powermon", "MQTT username")
	mqttPass   = flag.String("pass", "powermon", "MQTT password")
	mqttTopic  = flag.String("topic", "heartbeat_queue", "MQTT topic to publish to")
)

// heartbeatPayload matches what the service's AMQP consumer expects.
type heartbeatPayload struct {
	APIKey string    `json:"api_key"`
	SentAt time.Time `json:"sent_at"`
}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *apiKey == "" {
		logger.Fatal("-api-key is required")
	}

	logger.Info("Probe simulator started",
		zap.Duration("interval", *interval),
		zap.Float64("outage_probability", *outageProb),
		zap.String("mqtt_broker", *mqttBroker),
		zap.String("mqtt_topic", *mqttTopic),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
	opts.SetClientID("powermon-probesim")
	opts.SetUsername(*mqttUser)
	opts.SetPassword(*mqttPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer mqttClient.Disconnect(250)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping simulator")
		cancel()
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sent := 0
	outages := 0
	startTime := time.Now()
	var outageUntil time.Time

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down",
				zap.Int("heartbeats_sent", sent),
				zap.Int("outages_simulated", outages),
				zap.Duration("uptime", time.Since(startTime)),
			)
			mqttClient.Disconnect(250)
			return

		case now := <-ticker.C:
			// An active simulated outage means the probe is dark: no
			// heartbeat until the window ends, like a real power cut.
			if now.Before(outageUntil) {
				logger.Info("Simulated outage in progress, skipping heartbeat",
					zap.Time("until", outageUntil))
				continue
			}

			if *outageProb > 0 && rand.Float64() < *outageProb {
				length := *outageMin + time.Duration(rand.Int63n(int64(*outageMax-*outageMin)+1))
				outageUntil = now.Add(length)
				outages++
				logger.Info("Starting simulated outage",
					zap.Duration("length", length),
					zap.Time("until", outageUntil))
				continue
			}

			payload, err := json.Marshal(heartbeatPayload{
				APIKey: *apiKey,
				SentAt: now,
			})
			if err != nil {
				logger.Error("Failed to marshal heartbeat", zap.Error(err))
				continue
			}

			token := mqttClient.Publish(*mqttTopic, 0, false, payload)
			if token.Wait() && token.Error() != nil {
				logger.Error("Failed to publish heartbeat", zap.Error(token.Error()))
				continue
			}

			sent++
			logger.Debug("Heartbeat published",
				zap.Int("count", sent),
				zap.String("topic", *mqttTopic))
		}
	}
}
