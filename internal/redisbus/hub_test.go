package redisbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/pairpad/internal/event"
	"github.com/Iron-Ham/pairpad/internal/session"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func receive(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.Messages():
		if !ok {
			t.Fatal("subscription closed")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Envelope{}
}

func TestChannel(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want string
	}{
		{"default", nil, "pairpad:session:s1"},
		{"custom prefix", []Option{WithPrefix("team")}, "team:session:s1"},
		{"empty prefix ignored", []Option{WithPrefix("")}, "pairpad:session:s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil, tt.opts...)
			if got := h.Channel("s1"); got != tt.want {
				t.Errorf("Channel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPublishSubscribe(t *testing.T) {
	_, client := setupMiniRedis(t)
	hub := New(client)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer sub.Close()

	payload := map[string]any{"file_id": "f1", "version": 2}
	if err := hub.Publish(ctx, "s1", event.FileUpdated, payload); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	// Other sessions stay on their own channel.
	if err := hub.Publish(ctx, "s2", event.FileUpdated, payload); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	env := receive(t, sub)
	if env.SessionID != "s1" || env.Type != event.FileUpdated || env.At.IsZero() {
		t.Errorf("envelope = %+v", env)
	}
	var got struct {
		FileID  string `json:"file_id"`
		Version int    `json:"version"`
	}
	if err := env.Decode(&got); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.FileID != "f1" || got.Version != 2 {
		t.Errorf("payload = %+v", got)
	}

	select {
	case extra := <-sub.Messages():
		t.Errorf("received message for another session: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishFailsWhenServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	hub := New(client, WithTimeout(200*time.Millisecond))
	mr.Close()

	if err := hub.Publish(context.Background(), "s1", event.UserJoined, nil); err == nil {
		t.Error("Publish() should fail when Redis is unreachable")
	}
}

func TestClose(t *testing.T) {
	_, client := setupMiniRedis(t)
	hub := New(client)

	if err := hub.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := hub.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if err := hub.Publish(context.Background(), "s1", event.UserJoined, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrClosed", err)
	}
	// The caller still owns the client.
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Errorf("client closed by a hub that does not own it: %v", err)
	}
}

func TestDial(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	hub, err := Dial(ctx, mr.Addr(), 0, WithPrefix("x"))
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	if err := hub.Publish(ctx, "s1", event.SessionCreated, nil); err != nil {
		t.Errorf("Publish() error: %v", err)
	}
	if err := hub.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	mr.Close()
	if _, err := Dial(ctx, mr.Addr(), 0); err == nil {
		t.Error("Dial() to a stopped server should fail")
	}
}

func TestSubscriptionClose(t *testing.T) {
	_, client := setupMiniRedis(t)
	hub := New(client)

	sub, err := hub.Subscribe(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	select {
	case _, ok := <-sub.Messages():
		if ok {
			t.Error("unexpected message after Close")
		}
	case <-time.After(2 * time.Second):
		t.Error("Messages() not closed after Close")
	}
}

// Engine notifications reach a remote subscriber.
func TestEngineOverRedis(t *testing.T) {
	_, client := setupMiniRedis(t)
	hub := New(client)
	ctx := context.Background()

	engine := session.NewEngine(session.WithPublisher(hub))
	id, err := engine.CreateSession(ctx, session.Participant{ID: "alice"}, session.Settings{})
	if err != nil {
		t.Fatal(err)
	}

	sub, err := hub.Subscribe(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	bob := session.Participant{ID: "bob", Name: "Bob", Permissions: []session.Permission{session.PermView}}
	if err := engine.JoinSession(ctx, id, bob); err != nil {
		t.Fatal(err)
	}

	env := receive(t, sub)
	if env.Type != event.UserJoined {
		t.Fatalf("type = %s, want user_joined", env.Type)
	}
	var joined session.Joined
	if err := env.Decode(&joined); err != nil {
		t.Fatal(err)
	}
	if joined.Participant.ID != "bob" || len(joined.Permissions) != 1 {
		t.Errorf("joined = %+v", joined)
	}
}
