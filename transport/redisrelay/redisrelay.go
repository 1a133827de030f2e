// Package redisrelay bridges communication groups across nodes using
// Redis Streams. Each node publishes its locally originated broadcasts to
// a per-group stream and mirrors everything the other nodes publish into
// its local group, giving subscribers on every node the same view of the
// session's change stream.
package redisrelay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quillmesh/collab-server-go/transport"
	"github.com/quillmesh/collab-server-go/wire"
)

// MirrorGroup is the group surface the relay needs: a way to observe
// locally originated broadcasts and a way to inject remote frames without
// re-triggering those observers.
type MirrorGroup interface {
	transport.Group
	Mirror(frame *wire.Frame)
	OnBroadcast(fn func(*wire.Frame)) (cancel func())
}

// Relay fans group broadcasts out through Redis Streams.
type Relay struct {
	log       *slog.Logger
	client    redis.UniversalClient
	keyPrefix string
	nodeID    string
}

// Config contains configuration options for the relay.
type Config struct {
	// Client is the Redis client to use. If nil, a default client
	// connecting to localhost is created.
	Client redis.UniversalClient
	// KeyPrefix is prepended to all Redis keys used by the relay.
	// Defaults to "collab:relay:" if empty.
	KeyPrefix string
	// NodeID identifies this node in published entries so its own frames
	// are not mirrored back. Defaults to a generated UUID.
	NodeID string
	// Logger receives relay diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// New creates a relay instance. Run attaches it to a group.
func New(config Config) *Relay {
	client := config.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr: "localhost:6379",
		})
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "collab:relay:"
	}

	nodeID := config.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Relay{
		log:       log,
		client:    client,
		keyPrefix: keyPrefix,
		nodeID:    nodeID,
	}
}

// NodeID returns the identity under which this relay publishes.
func (r *Relay) NodeID() string { return r.nodeID }

// Close closes the Redis connection.
func (r *Relay) Close() error {
	return r.client.Close()
}

// Publish appends one frame to the group's stream under this node's
// identity and returns the generated stream entry ID.
func (r *Relay) Publish(ctx context.Context, groupName string, frame *wire.Frame) (string, error) {
	data, err := wire.Marshal(frame)
	if err != nil {
		return "", fmt.Errorf("failed to marshal frame for group %s: %w", groupName, err)
	}

	streamKey := r.streamKey(groupName)
	eventID, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{
			"node": r.nodeID,
			"data": data,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish frame to stream %s: %w", streamKey, err)
	}
	return eventID, nil
}

// Run attaches the relay to group until ctx is cancelled: broadcasts that
// originate locally are published to the group's stream, and entries
// published by other nodes are mirrored into the local group. Frames that
// cannot be published in time are dropped rather than stalling the
// group's delivery path.
func (r *Relay) Run(ctx context.Context, groupName string, group MirrorGroup) error {
	outbound := make(chan *wire.Frame, 64)
	cancelTap := group.OnBroadcast(func(f *wire.Frame) {
		select {
		case outbound <- f:
		default:
			r.log.Warn("relay.publish.drop", slog.String("group", groupName))
		}
	})
	defer cancelTap()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-outbound:
				if _, err := r.Publish(ctx, groupName, f); err != nil {
					r.log.Error("relay.publish.fail",
						slog.String("group", groupName),
						slog.String("err", err.Error()),
					)
				}
			}
		}
	}()

	streamKey := r.streamKey(groupName)
	startID := "$"
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, startID},
			Count:   16,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read from stream %s: %w", streamKey, err)
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				startID = message.ID

				node, _ := message.Values["node"].(string)
				if node == r.nodeID {
					continue
				}
				data, ok := message.Values["data"].(string)
				if !ok {
					continue
				}
				frame, err := wire.Parse([]byte(data))
				if err != nil {
					r.log.Warn("relay.frame.drop",
						slog.String("group", groupName),
						slog.String("err", err.Error()),
					)
					continue
				}
				group.Mirror(frame)
			}
		}
	}
}

// Cleanup removes the stream backing a group, typically after the
// session closed on every node.
func (r *Relay) Cleanup(ctx context.Context, groupName string) error {
	streamKey := r.streamKey(groupName)
	if err := r.client.Del(ctx, streamKey).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to cleanup group %s: %w", groupName, err)
	}
	return nil
}

func (r *Relay) streamKey(groupName string) string {
	return r.keyPrefix + "stream:" + groupName
}
