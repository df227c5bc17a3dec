package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pubky-canva/indexer/internal/broadcast"
)

// readEvent scans the stream until it has one complete SSE frame.
func readEvent(t *testing.T, scanner *bufio.Scanner) (event, data string) {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
	t.Fatal("stream ended before a complete event")
	return "", ""
}

func TestEventsStreamDeliversPixelAndResize(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("unexpected response error: %v", err)
	}
	defer response.Body.Close()

	if got := response.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}

	scanner := bufio.NewScanner(response.Body)

	// The stream opens with a reconnection hint.
	if !scanner.Scan() || scanner.Text() != "retry: 5000" {
		t.Fatalf("expected retry hint, got %q", scanner.Text())
	}

	// Subscription registration races the first publish; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for env.dispatcher.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.dispatcher.Publish(broadcast.Message{Pixel: &broadcast.PixelAccepted{
		X: 7, Y: 3, Color: 5, UserPK: testUserA, PlacedAt: 1739600000000000,
	}})
	event, data := readEvent(t, scanner)
	if event != "pixel" {
		t.Fatalf("expected pixel event, got %q", event)
	}
	if !strings.Contains(data, `"x":7`) || !strings.Contains(data, `"placed_at":1739600000000000`) {
		t.Fatalf("unexpected pixel payload: %s", data)
	}

	env.dispatcher.Publish(broadcast.Message{Resize: &broadcast.CanvasResized{OldSize: 16, NewSize: 32}})
	event, data = readEvent(t, scanner)
	if event != "resize" {
		t.Fatalf("expected resize event, got %q", event)
	}
	if !strings.Contains(data, `"old_size":16`) || !strings.Contains(data, `"new_size":32`) {
		t.Fatalf("unexpected resize payload: %s", data)
	}
}

func TestEventsStreamClosesOnDispatcherShutdown(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("unexpected response error: %v", err)
	}
	defer response.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.dispatcher.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.dispatcher.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(response.Body)
		for scanner.Scan() {
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not close after dispatcher shutdown")
	}
}
