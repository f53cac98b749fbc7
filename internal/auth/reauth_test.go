package auth

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/InfamousVague/Wraith-sub005/internal/store"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testStore(t *testing.T) *store.FileStore {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func signedToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(expiresIn).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestHandleFailover_LogsInAndCachesToken(t *testing.T) {
	s := testStore(t)
	done := make(chan struct{})
	r := New(Config{
		Login: func(ctx context.Context, endpointID string) (string, error) {
			defer close(done)
			if endpointID != "b" {
				t.Errorf("login endpoint = %q, want b", endpointID)
			}
			return "fresh-token", nil
		},
		Store:  s,
		Logger: testLogger(),
	})

	r.HandleFailover("a", "b")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("login never ran")
	}

	// Wait for the goroutine to finish storing.
	deadline := time.Now().Add(2 * time.Second)
	for r.InProgress() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := r.Token(); got != "fresh-token" {
		t.Errorf("Token = %q, want fresh-token", got)
	}
	data, found, _ := s.Get(store.TokenKey("b"))
	if !found || string(data) != "fresh-token" {
		t.Errorf("cached token = %q found=%v", data, found)
	}
}

func TestHandleFailover_SuppressesOverlappingReauth(t *testing.T) {
	s := testStore(t)
	release := make(chan struct{})
	var logins int32
	r := New(Config{
		Login: func(ctx context.Context, endpointID string) (string, error) {
			atomic.AddInt32(&logins, 1)
			<-release
			return "token", nil
		},
		Store:  s,
		Logger: testLogger(),
	})

	r.HandleFailover("a", "b")

	// Wait until the first re-auth is in flight, then fire another failover.
	deadline := time.Now().Add(2 * time.Second)
	for !r.InProgress() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	r.HandleFailover("b", "c")

	close(release)
	deadline = time.Now().Add(2 * time.Second)
	for r.InProgress() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := atomic.LoadInt32(&logins); got != 1 {
		t.Errorf("login ran %d times, want 1 (second failover suppressed)", got)
	}
}

func TestHandleFailover_ReusesUnexpiredCachedToken(t *testing.T) {
	s := testStore(t)
	cached := signedToken(t, time.Hour)
	if err := s.Put(store.TokenKey("b"), []byte(cached)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	r := New(Config{
		Login: func(ctx context.Context, endpointID string) (string, error) {
			t.Error("login ran despite valid cached token")
			return "", errors.New("unexpected")
		},
		Store:  s,
		Logger: testLogger(),
	})

	r.HandleFailover("a", "b")
	if got := r.Token(); got != cached {
		t.Errorf("Token = %q, want cached token", got)
	}
}

func TestHandleFailover_ExpiredCachedTokenTriggersLogin(t *testing.T) {
	s := testStore(t)
	if err := s.Put(store.TokenKey("b"), []byte(signedToken(t, -time.Minute))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	done := make(chan struct{})
	r := New(Config{
		Login: func(ctx context.Context, endpointID string) (string, error) {
			close(done)
			return "fresh", nil
		},
		Store:  s,
		Logger: testLogger(),
	})

	r.HandleFailover("a", "b")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expired cached token did not trigger login")
	}
}

func TestHandleFailover_GarbageCachedTokenTriggersLogin(t *testing.T) {
	s := testStore(t)
	if err := s.Put(store.TokenKey("b"), []byte("not-a-jwt")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	done := make(chan struct{})
	r := New(Config{
		Login: func(ctx context.Context, endpointID string) (string, error) {
			close(done)
			return "fresh", nil
		},
		Store:  s,
		Logger: testLogger(),
	})

	r.HandleFailover("a", "b")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("garbage cached token did not trigger login")
	}
}
