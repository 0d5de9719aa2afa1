package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"classattend/internal/config"
	"classattend/internal/messaging"
	"classattend/internal/store"
)

// Scanner publishes tag scans to the scan topic, one per command-line
// argument or, without arguments, one per stdin line.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	var rdb *redis.Client
	if cfg.BrokerBackend == "redis" {
		rdb = store.NewRedis(cfg.RedisAddr).Client
		defer rdb.Close()
	}

	broker, err := messaging.Open(cfg.BrokerBackend, messaging.MQTTOptions{
		BrokerURL:      cfg.MQTTBrokerURL,
		ClientID:       "classattend-scanner-" + uuid.NewString()[:8],
		ConnectTimeout: cfg.ConnectTimeout,
	}, rdb)
	if err != nil {
		log.Fatalf("broker init failed: %v", err)
	}
	defer broker.Close()

	if !waitConnected(ctx, broker, cfg.ConnectTimeout) {
		log.Fatalf("broker %s not connected after %s", cfg.BrokerBackend, cfg.ConnectTimeout)
	}

	var src io.Reader = os.Stdin
	if len(os.Args) > 1 {
		src = strings.NewReader(strings.Join(os.Args[1:], "\n"))
	}

	sent, err := publishScans(ctx, broker, cfg.ScanTopic, src)
	if err != nil {
		log.Printf("scanner stopped: %v", err)
	}
	log.Printf("scanner published %d scan(s) to %s", sent, cfg.ScanTopic)
}

// publishScans sends {"uid": ...} for every non-empty line of src.
func publishScans(ctx context.Context, b messaging.Broker, topic string, src io.Reader) (int, error) {
	sent := 0
	lines := bufio.NewScanner(src)
	for lines.Scan() {
		uid := strings.TrimSpace(lines.Text())
		if uid == "" {
			continue
		}
		payload, err := json.Marshal(map[string]string{"uid": uid})
		if err != nil {
			return sent, err
		}
		if err := b.Publish(ctx, topic, payload); err != nil {
			return sent, err
		}
		log.Printf("scan published: %s", uid)
		sent++
	}
	return sent, lines.Err()
}

func waitConnected(ctx context.Context, b messaging.Broker, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !b.Connected() {
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return true
}
