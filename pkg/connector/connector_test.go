// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
)

func TestHTTPHandlerRouting(t *testing.T) {
	t.Parallel()
	mc, _, _ := newTestConnector(t)
	token := mustBridge(t, mc, testRoom)

	var appserviceHits int
	asAPI := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		appserviceHits++
		w.WriteHeader(http.StatusTeapot)
	})
	h := mc.httpHandler(asAPI)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/vibecheck", http.StatusOK},
		{http.MethodGet, "/chat", http.StatusOK},
		{http.MethodPost, "/player/join", http.StatusBadRequest},
		{http.MethodPut, "/_matrix/app/v1/transactions/1", http.StatusTeapot},
		{http.MethodGet, "/_matrix/app/v1/users/@_mc_bot:example.com", http.StatusTeapot},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.status {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.status)
		}
	}
	if appserviceHits != 2 {
		t.Errorf("appservice API got %d requests, want 2", appserviceHits)
	}
}

func TestRunDispatchesEvents(t *testing.T) {
	t.Parallel()
	mc, rooms, _ := newTestConnector(t)
	mc.AS = &appservice.AppService{Events: make(chan *event.Event)}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- mc.Run(ctx)
	}()

	mc.AS.Events <- messageEvent(testRoom, testUser, &event.MessageEventContent{MsgType: event.MsgText, Body: "!minecraft help"})
	mc.AS.Events <- messageEvent(testRoom, testUser, &event.MessageEventContent{MsgType: event.MsgText, Body: "!minecraft"})
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run didn't stop after cancel")
	}
	// The second send only returns once the first event was fully handled.
	if len(rooms.Notices()) < 1 {
		t.Error("events were not dispatched")
	}
}

func TestStopClosesDatabase(t *testing.T) {
	t.Parallel()
	mc, _, _ := newTestConnector(t)
	if err := mc.Stop(t.Context()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := mc.DB.Bridge.GetAll(context.Background()); err == nil {
		t.Error("database still usable after Stop")
	}
}
