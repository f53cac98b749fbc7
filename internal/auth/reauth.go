// Package auth owns the re-authentication trigger that runs when the active
// endpoint changes. The login workflow itself (challenge/response) lives
// elsewhere and is injected; this package only decides when to run it and
// guarantees two re-auths never overlap.
package auth

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/InfamousVague/Wraith-sub005/internal/store"
	"github.com/InfamousVague/Wraith-sub005/pkg/logging"
)

// LoginFunc performs the actual authentication against an endpoint and
// returns a session token.
type LoginFunc func(ctx context.Context, endpointID string) (string, error)

// Reauther re-authenticates the session after a failover. It is the
// subscriber side of the FailoverNotifier's cooperative contract: the
// explicit inProgress guard here is what prevents the re-auth storm when a
// failover lands while a previous re-auth is still in flight.
type Reauther struct {
	login      LoginFunc
	store      store.Store
	logger     logging.Entry
	timeout    time.Duration
	inProgress atomic.Bool

	activeToken atomic.Value // string
}

// Config holds dependencies for the Reauther.
type Config struct {
	Login   LoginFunc
	Store   store.Store
	Logger  logging.Logger
	Timeout time.Duration
}

// New creates a Reauther.
func New(cfg Config) *Reauther {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := &Reauther{
		login:   cfg.Login,
		store:   cfg.Store,
		logger:  logging.WithComponent(cfg.Logger, "auth"),
		timeout: cfg.Timeout,
	}
	r.activeToken.Store("")
	return r
}

// Token returns the session token for the current endpoint, or empty when
// unauthenticated.
func (r *Reauther) Token() string {
	token, _ := r.activeToken.Load().(string)
	return token
}

// HandleFailover is the notifier callback. It swaps in a cached, unexpired
// token for the new endpoint when one exists, and otherwise re-authenticates
// in the background. A failover arriving while a re-auth is in flight is
// suppressed; the guard is released only when that re-auth settles.
func (r *Reauther) HandleFailover(previousID, newID string) {
	if token, ok := r.cachedToken(newID); ok {
		r.activeToken.Store(token)
		r.logger.WithFields(logging.Fields{
			"from": previousID,
			"to":   newID,
		}).Debug("Reusing cached session token after failover")
		return
	}

	if !r.inProgress.CompareAndSwap(false, true) {
		r.logger.WithFields(logging.Fields{
			"from": previousID,
			"to":   newID,
		}).Warn("Failover during in-flight re-auth, suppressed")
		return
	}

	r.activeToken.Store("")

	go func() {
		defer r.inProgress.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		token, err := r.login(ctx, newID)
		if err != nil {
			r.logger.WithError(err).WithField("endpoint", newID).Warn("Re-authentication failed")
			return
		}

		r.activeToken.Store(token)
		if err := r.store.Put(store.TokenKey(newID), []byte(token)); err != nil {
			r.logger.WithError(err).WithField("endpoint", newID).Debug("Failed to cache session token")
		}
		r.logger.WithField("endpoint", newID).Info("Re-authenticated after failover")
	}()
}

// InProgress reports whether a re-auth is currently in flight.
func (r *Reauther) InProgress() bool {
	return r.inProgress.Load()
}

// cachedToken returns a stored token for the endpoint when it has not
// expired. The claims are parsed unverified; only the endpoint can verify
// the signature, and an invalid token just costs one rejected request
// followed by a normal login.
func (r *Reauther) cachedToken(endpointID string) (string, bool) {
	data, found, err := r.store.Get(store.TokenKey(endpointID))
	if err != nil || !found {
		return "", false
	}
	token := string(data)

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return "", false
	}
	// Leave a margin so we never hand out a token that dies mid-request.
	if time.Until(exp.Time) < 30*time.Second {
		return "", false
	}
	return token, true
}
