package prefs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/InfamousVague/Wraith-sub005/internal/api"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRemoteClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/profile/preferences" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer session-token" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(api.RemotePreference{PreferredServer: "eu-west", UpdatedAt: 123})
	}))
	defer srv.Close()

	c := NewRemoteClient(RemoteClientConfig{
		BaseURL: func() string { return srv.URL },
		Token:   func() string { return "session-token" },
		Logger:  testLogger(),
	})

	snap, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.PreferredServer != "eu-west" || snap.UpdatedAt != 123 {
		t.Errorf("Fetch = %+v", snap)
	}
}

func TestRemoteClient_PushBestEffort(t *testing.T) {
	var mu sync.Mutex
	var got api.RemotePreference
	received := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %q", r.Method)
		}
		mu.Lock()
		json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		close(received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewRemoteClient(RemoteClientConfig{
		BaseURL: func() string { return srv.URL },
		Token:   func() string { return "" },
		Logger:  testLogger(),
	})

	c.Push(Preference{AutoFastest: true, UpdatedAt: 456})

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("push never reached the profile server")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.AutoFastest == nil || !*got.AutoFastest || got.UpdatedAt != 456 {
		t.Errorf("pushed payload = %+v", got)
	}
}

func TestRemoteClient_PushFailureDoesNotPanic(t *testing.T) {
	c := NewRemoteClient(RemoteClientConfig{
		BaseURL: func() string { return "http://127.0.0.1:1" },
		Token:   func() string { return "" },
		Timeout: time.Second,
		Logger:  testLogger(),
	})

	// Fire-and-forget: the failure is logged, nothing propagates.
	c.Push(Preference{PinnedEndpointID: "a", UpdatedAt: 1})
	time.Sleep(100 * time.Millisecond)
}
