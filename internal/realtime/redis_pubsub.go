package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	versionChannel = "content:version"
	publishTTL     = 5 * time.Second
)

// versionPayload is the message published to Redis when the content version
// changes, so sessions hosted on other instances rebroadcast state too.
type versionPayload struct {
	Version string `json:"version"`
	At      int64  `json:"at"`
}

// VersionBridge fans content-version announcements out across server
// instances via Redis pub/sub.
type VersionBridge struct {
	client *redis.Client
	logger *zap.Logger
}

// NewVersionBridge creates a Redis pub/sub bridge for version announcements.
func NewVersionBridge(client *redis.Client, logger *zap.Logger) *VersionBridge {
	return &VersionBridge{client: client, logger: logger}
}

// Publish announces a new content version to all instances.
func (b *VersionBridge) Publish(version string) error {
	body, err := json.Marshal(versionPayload{Version: version, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTTL)
	defer cancel()
	return b.client.Publish(ctx, versionChannel, body).Err()
}

// Subscribe listens for version announcements and calls handler for each.
// Returns a cancel function to stop the subscription.
func (b *VersionBridge) Subscribe(handler func(version string)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, versionChannel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p versionPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					b.logger.Warn("bad version payload", zap.Error(err))
					continue
				}
				handler(p.Version)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
