package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestHubDeliversRunMessagesToFollowers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws", hub.ServeWS)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?runId=run-a"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// registration is asynchronous, keep publishing until the client sees something
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				hub.Publish(NewStatusMessage(StatusUpdate{RunID: "run-b", Status: StatusRunning}))
				hub.Publish(NewStatusMessage(StatusUpdate{RunID: "run-a", Status: StatusRunning}))
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 3; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		msg, err := FromJSON(data)
		if err != nil {
			t.Fatalf("Invalid message %q: %v", data, err)
		}
		if msg.RunID != "run-a" {
			t.Fatalf("Expected only run-a messages, got %s", msg.RunID)
		}
	}
}

func TestHubBroadcastAfterShutdownDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()

	finished := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(finished)
	}()
	cancel()
	<-finished

	for i := 0; i < 300; i++ {
		hub.BroadcastMessage([]byte(`{"type":"ping"}`))
	}
}
