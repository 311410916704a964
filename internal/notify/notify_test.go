package notify

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// TestHubDeliversToMatchingSubscribers verifies only subscribers of the
// published name run.
func TestHubDeliversToMatchingSubscribers(t *testing.T) {
	h := NewHub()
	defer h.Close()

	term := make(chan struct{}, 1)
	vol := make(chan struct{}, 1)
	if _, err := h.Subscribe(Terminate, func() { term <- struct{}{} }); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Subscribe(VolumeChanged, func() { vol <- struct{}{} }); err != nil {
		t.Fatal(err)
	}

	if err := h.Post(VolumeChanged); err != nil {
		t.Fatal(err)
	}
	waitFor(t, vol, "volume-changed")

	select {
	case <-term:
		t.Fatal("terminate handler should not run")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestHubDropsWhenBusy verifies a subscriber still handling a notification
// keeps one pending delivery and drops the rest without blocking Publish.
func TestHubDropsWhenBusy(t *testing.T) {
	h := NewHub()
	defer h.Close()

	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	if _, err := h.Subscribe(Terminate, func() {
		entered <- struct{}{}
		<-release
	}); err != nil {
		t.Fatal(err)
	}

	h.Publish(Terminate)
	waitFor(t, entered, "first delivery")

	h.Publish(Terminate)
	h.Publish(Terminate)

	st := h.Stats()
	if st.Published != 3 || st.Delivered != 2 || st.Dropped != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	close(release)
}

func TestHubCancelStopsDelivery(t *testing.T) {
	h := NewHub()
	defer h.Close()

	got := make(chan struct{}, 1)
	cancel, err := h.Subscribe(Terminate, func() { got <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	cancel()

	h.Publish(Terminate)
	select {
	case <-got:
		t.Fatal("cancelled handler ran")
	case <-time.After(50 * time.Millisecond):
	}
	if st := h.Stats(); st.Delivered != 0 {
		t.Errorf("expected no deliveries, got %+v", st)
	}
}

func TestHubRejectsBadInput(t *testing.T) {
	h := NewHub()
	if _, err := h.Subscribe("reboot", func() {}); !errors.Is(err, ErrUnknownName) {
		t.Errorf("expected ErrUnknownName, got %v", err)
	}
	if _, err := h.Subscribe(Terminate, nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}

	h.Close()
	h.Close()
	if err := h.Post(Terminate); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

// TestDirTransportCrossesInstances verifies a post from one watcher is seen
// by another watching the same directory, as two processes would.
func TestDirTransportCrossesInstances(t *testing.T) {
	dir := t.TempDir()

	sender, err := NewDir(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	receiver, err := NewDir(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer receiver.Close()

	got := make(chan struct{}, 4)
	if _, err := receiver.Subscribe(VolumeChanged, func() { got <- struct{}{} }); err != nil {
		t.Fatal(err)
	}

	if err := sender.Post(VolumeChanged); err != nil {
		t.Fatal(err)
	}
	waitFor(t, got, "volume-changed over directory")

	if err := sender.Post("bogus"); !errors.Is(err, ErrUnknownName) {
		t.Errorf("expected ErrUnknownName, got %v", err)
	}
}

func TestOpenRejectsUnknownTransport(t *testing.T) {
	if _, err := Open("carrier-pigeon", t.TempDir(), zap.NewNop()); err == nil {
		t.Fatal("expected error")
	}
}
