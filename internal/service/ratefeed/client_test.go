package ratefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"BondYield/internal/domain/models"

	"github.com/gorilla/websocket"
)

func TestDecodeFixings(t *testing.T) {
	frame := []byte(`{"type":"fixing","data":[
		{"c":"USTR_CMT","d":"2024-05-01","r":"0.0425","s":"treasury"},
		{"c":"MUNI_AAA","d":"bad-date","r":"0.03"},
		{"c":"MUNI_AAA","d":"2024-05-01","r":"x"},
		{"c":"MUNI_AAA","d":"2024-05-01","r":"0.031"}]}`)
	rates, err := decodeFixings(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("expected 2 valid fixings, got %d", len(rates))
	}
	if rates[0].Code != models.IndexUSTreasuryCMT || rates[0].Rate.String() != "0.0425" || rates[0].Source != "treasury" {
		t.Fatalf("unexpected first fixing: %+v", rates[0])
	}
	if rates[1].Source != "ratefeed" {
		t.Fatalf("expected default source, got %q", rates[1].Source)
	}

	if rates, err := decodeFixings([]byte(`{"type":"ping"}`)); err != nil || rates != nil {
		t.Fatalf("non-fixing frame should be ignored, got %v %v", rates, err)
	}
	if _, err := decodeFixings([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed frame")
	}
}

func TestClientStreamsFixings(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "k" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg subscribeMsg
		for i := 0; i < 2; i++ {
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			subscribed <- msg.Code
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"fixing","data":[{"c":"MUNI_AAA","d":"2024-05-01","r":"0.05"}]}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New("k", wsURL, []string{"USTR_CMT", " MUNI_AAA"}, 10*time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	if err := c.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := <-subscribed; got != "USTR_CMT" {
		t.Fatalf("unexpected first subscription %q", got)
	}
	if got := <-subscribed; got != "MUNI_AAA" {
		t.Fatalf("unexpected second subscription %q", got)
	}

	rates, _ := c.Read(ctx)
	select {
	case r := <-rates:
		if r.Code != models.IndexMuniAAA || r.Rate.String() != "0.05" {
			t.Fatalf("unexpected fixing %+v", r)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for fixing")
	}
	if !c.IsConnected() {
		t.Fatalf("expected connected")
	}
}

func TestSubscribeRequiresConnection(t *testing.T) {
	c := New("", "ws://127.0.0.1:1", nil, 0, 0, nil)
	if err := c.Subscribe(context.Background()); err != errNotConnected {
		t.Fatalf("expected errNotConnected, got %v", err)
	}
}

func TestReadStopsPingLoopWhenConnectionDrops(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// hang up right away so every Read fails
		conn.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New("", wsURL, nil, time.Millisecond, 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	for i := 0; i < 3; i++ {
		_, errs := c.Read(ctx)
		select {
		case err := <-errs:
			if err == nil {
				t.Fatalf("read %d: expected error", i)
			}
		case <-ctx.Done():
			t.Fatalf("read %d: timed out", i)
		}
		if err := c.Reconnect(ctx); err != nil {
			t.Fatalf("reconnect %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for c.pingers.Load() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ping loops still running: %d", c.pingers.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
