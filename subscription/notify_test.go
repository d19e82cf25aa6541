package subscription

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/woozar/prophecy-sub003/domain"
)

func TestListenNotificationsRelaysEnvelopes(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pub := &fakePublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ListenNotifications(ctx, quietLogger(), dbURL, "prophecy_events_test", 100*time.Millisecond, pub)
		close(done)
	}()

	conn, err := pgx.Connect(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for len(pub.Sent()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notification was not relayed")
		}
		if _, err := conn.Exec(context.Background(), "SELECT pg_notify($1, $2)",
			"prophecy_events_test", `{"kind":"round:resolved","payload":{"id":"round-1"}}`); err != nil {
			t.Fatalf("notify: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if got := pub.Sent()[0]; got.kind != domain.RoundResolved {
		t.Fatalf("unexpected relayed event %+v", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ListenNotifications did not exit")
	}
}

func TestListenNotificationsStopsOnCancel(t *testing.T) {
	pub := &fakePublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ListenNotifications(ctx, quietLogger(), "postgres://nobody@127.0.0.1:1/none?connect_timeout=1", "ch", 10*time.Millisecond, pub)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("ListenNotifications did not exit after cancel")
	}
}
