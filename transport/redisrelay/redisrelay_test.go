package redisrelay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quillmesh/collab-server-go/transport/memorygroup"
	"github.com/quillmesh/collab-server-go/wire"
)

func TestRelayMirrorsAcrossNodes(t *testing.T) {
	// Skip if Redis is not available
	testClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	if err := testClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	testClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := fmt.Sprintf("test:relay:%d:", time.Now().UnixNano())
	groupName := "session/doc"

	newNode := func(nodeID string) (*Relay, *memorygroup.Group, *memorygroup.Conn) {
		relay := New(Config{
			Client: redis.NewClient(&redis.Options{
				Addr: "localhost:6379",
			}),
			KeyPrefix: prefix,
			NodeID:    nodeID,
		})
		group := memorygroup.New(groupName)
		conn := memorygroup.NewConn()
		group.AddMember(conn)
		go func() { _ = relay.Run(ctx, groupName, group) }()
		return relay, group, conn
	}

	relayA, groupA, connA := newNode("node-a")
	relayB, _, connB := newNode("node-b")
	defer relayA.Close()
	defer relayB.Close()
	defer func() {
		cleanup := New(Config{
			Client: redis.NewClient(&redis.Options{
				Addr: "localhost:6379",
			}),
			KeyPrefix: prefix,
		})
		_ = cleanup.Cleanup(context.Background(), groupName)
		cleanup.Close()
	}()

	// Give both read loops time to park on the stream before publishing.
	time.Sleep(200 * time.Millisecond)

	frame := wire.NewFrame("user-join")
	frame.SetAttr("name", "alice")
	groupA.Broadcast(frame)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if f := connB.LastReceived(); f != nil {
			if f.Name != "user-join" {
				t.Fatalf("mirrored frame = %s, want user-join", f.Name)
			}
			if name, _ := f.Attr("name"); name != "alice" {
				t.Fatalf("mirrored name = %q, want %q", name, "alice")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frame was not mirrored to the other node")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The origin node must not receive its own frame a second time.
	time.Sleep(300 * time.Millisecond)
	if got := len(connA.Received()); got != 1 {
		t.Errorf("origin conn received %d frames, want 1", got)
	}
}
