package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/interfaces"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"

	"golang.org/x/sync/singleflight"
)

const defaultValidateTimeout = 10 * time.Second

type cachedPrincipal struct {
	principal models.MPrincipal
	expires   time.Time
}

// Authenticator validates auth handshakes. Concurrent checks for the same
// user and organization share one validator call; different principals never
// wait on each other. Successful results are cached for a short TTL.
type Authenticator struct {
	Validator       interfaces.ISessionValidator
	Logger          *logger.Logger
	TTL             time.Duration
	ValidateTimeout time.Duration // bounds one shared validator call

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cachedPrincipal
	now   func() time.Time
}

// -----------------------------------------------------------------------------

func NewAuthenticator(validator interfaces.ISessionValidator, ttl time.Duration, log *logger.Logger) *Authenticator {
	return &Authenticator{
		Validator: validator,
		Logger:    log,
		TTL:       ttl,
		cache:     make(map[string]cachedPrincipal),
		now:       time.Now,
	}
}

// -----------------------------------------------------------------------------

// Authenticate returns the principal for the claimed identity or an AuthenticationError.
func (a *Authenticator) Authenticate(ctx context.Context, userID, organizationID string) (models.MPrincipal, error) {
	userID = strings.TrimSpace(userID)
	organizationID = strings.TrimSpace(organizationID)
	if userID == "" {
		return models.MPrincipal{}, helpers.NewAuthenticationError("userId is required", nil)
	}

	key := userID + "|" + organizationID
	if p, ok := a.cached(key); ok {
		return p, nil
	}

	// the shared call outlives any single caller; each caller only stops waiting
	ch := a.group.DoChan(key, func() (interface{}, error) {
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.validateTimeout())
		defer cancel()

		p, err := a.Validator.ValidateSession(vctx, userID, organizationID)
		if err != nil {
			return nil, err
		}
		a.store(key, p)
		return p, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return models.MPrincipal{}, helpers.NewAuthenticationError("session validation abandoned", ctx.Err())
	}

	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		if !helpers.IsAuthentication(err) {
			err = helpers.NewAuthenticationError("session validation failed", err)
		}
		return models.MPrincipal{}, err
	}
	if shared {
		a.Logger.Debug("Shared session check for %s", key)
	}
	return v.(models.MPrincipal), nil
}

// -----------------------------------------------------------------------------

func (a *Authenticator) validateTimeout() time.Duration {
	if a.ValidateTimeout > 0 {
		return a.ValidateTimeout
	}
	return defaultValidateTimeout
}

// -----------------------------------------------------------------------------

// Forget drops a cached principal, e.g. after a logout notification.
func (a *Authenticator) Forget(userID, organizationID string) {
	a.mu.Lock()
	delete(a.cache, userID+"|"+organizationID)
	a.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (a *Authenticator) cached(key string) (models.MPrincipal, bool) {
	if a.TTL <= 0 {
		return models.MPrincipal{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.cache[key]
	if !ok {
		return models.MPrincipal{}, false
	}
	if a.now().After(entry.expires) {
		delete(a.cache, key)
		return models.MPrincipal{}, false
	}
	return entry.principal, true
}

func (a *Authenticator) store(key string, p models.MPrincipal) {
	if a.TTL <= 0 {
		return
	}
	a.mu.Lock()
	a.cache[key] = cachedPrincipal{principal: p, expires: a.now().Add(a.TTL)}
	a.mu.Unlock()
}
