package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ingest"
)

func TestPollInbox(t *testing.T) {
	dir := t.TempDir()
	inbox, err := ingest.NewInbox(dir)
	if err != nil {
		t.Fatalf("NewInbox failed: %v", err)
	}
	for _, name := range []string{"EJ_b.txt", "EJ_a.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("01,20251027094500,0\n"), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	var (
		mu     sync.Mutex
		events []domain.WindowArrivedEvent
		wg     sync.WaitGroup
	)
	wg.Add(2)
	eventBus.Subscribe(context.Background(), domain.TopicWindowArrived, func(ctx context.Context, msg *domain.Message) error {
		defer wg.Done()
		var ev domain.WindowArrivedEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return nil
	})

	s := New(domain.SchedulerConfig{}, nil, inbox, eventBus, nil, nil)
	n, err := s.PollInbox(context.Background())
	if err != nil {
		t.Fatalf("PollInbox failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 files announced, got %d", n)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for window events")
	}

	mu.Lock()
	defer mu.Unlock()
	if events[0].Source != "EJ_a.txt" {
		t.Errorf("expected oldest name first, got %s", events[0].Source)
	}
	for _, ev := range events {
		if filepath.Dir(ev.Path) != filepath.Join(dir, ingest.ClaimedDir) {
			t.Errorf("expected claimed path under claimed/, got %s", ev.Path)
		}
	}

	// Claimed files are not announced again.
	if n, _ := s.PollInbox(context.Background()); n != 0 {
		t.Errorf("expected empty inbox on second poll, got %d", n)
	}
}

// closedBus accepts no messages.
type closedBus struct{}

func (closedBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return errors.New("connection closed")
}

func (closedBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("connection closed")
}

func (closedBus) Ping(ctx context.Context) error { return errors.New("connection closed") }

func (closedBus) Close() error { return nil }

func TestPollInboxPublishFailure(t *testing.T) {
	dir := t.TempDir()
	inbox, err := ingest.NewInbox(dir)
	if err != nil {
		t.Fatalf("NewInbox failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "EJ_a.txt"), []byte("01,20251027094500,0\n"), 0644); err != nil {
		t.Fatalf("failed to write window file: %v", err)
	}

	s := New(domain.SchedulerConfig{}, nil, inbox, closedBus{}, nil, nil)
	n, err := s.PollInbox(context.Background())
	if err == nil {
		t.Fatal("expected error when the bus rejects the event")
	}
	if n != 0 {
		t.Errorf("expected 0 files announced, got %d", n)
	}

	pending, err := inbox.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 || filepath.Base(pending[0]) != "EJ_a.txt" {
		t.Errorf("expected the file back in the inbox, got %v", pending)
	}
}

func TestStart(t *testing.T) {
	dir := t.TempDir()
	inbox, err := ingest.NewInbox(dir)
	if err != nil {
		t.Fatalf("NewInbox failed: %v", err)
	}
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	t.Run("ValidSpec", func(t *testing.T) {
		s := New(domain.SchedulerConfig{InboxSpec: "@every 15m"}, time.UTC, inbox, eventBus, nil, nil)
		if err := s.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if len(s.cron.Entries()) != 1 {
			t.Errorf("expected 1 cron entry, got %d", len(s.cron.Entries()))
		}
		s.Stop()
	})

	t.Run("InvalidSpec", func(t *testing.T) {
		s := New(domain.SchedulerConfig{InboxSpec: "every fifteen"}, time.UTC, inbox, eventBus, nil, nil)
		if err := s.Start(); err == nil {
			t.Error("expected error for invalid cron spec")
		}
	})
}
