package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog/log"
)

// Keyfunc resolves HS256 tokens with the local secret and everything else
// through remote. Either may be empty; a nil result means no tokens can be
// verified.
func Keyfunc(localSecret string, remote jwt.Keyfunc) jwt.Keyfunc {
	if localSecret == "" && remote == nil {
		return nil
	}
	return func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
			if localSecret == "" {
				return nil, fmt.Errorf("hmac tokens not accepted")
			}
			return []byte(localSecret), nil
		}
		if remote == nil {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return remote(t)
	}
}

type jwks struct {
	mu  sync.RWMutex
	set jwk.Set
}

func (k *jwks) get() jwk.Set {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.set
}

// JWKSKeyfunc fetches the key set at url and refreshes it every interval
// until ctx is done.
func JWKSKeyfunc(ctx context.Context, url string, interval time.Duration) (jwt.Keyfunc, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	set, err := jwk.Fetch(ctx, url, jwk.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	k := &jwks{set: set}
	if interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					newSet, err := jwk.Fetch(ctx, url, jwk.WithHTTPClient(httpClient))
					if err != nil {
						log.Warn().Err(err).Str("jwks_url", url).Msg("jwks refresh")
						continue
					}
					k.mu.Lock()
					k.set = newSet
					k.mu.Unlock()
				}
			}
		}()
	}
	return func(t *jwt.Token) (interface{}, error) {
		return keyFromSet(k.get(), t)
	}, nil
}

func keyFromSet(set jwk.Set, t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	if kid != "" {
		if key, ok := set.LookupKeyID(kid); ok {
			var pub any
			if err := key.Raw(&pub); err != nil {
				return nil, err
			}
			return pub, nil
		}
		return nil, fmt.Errorf("no jwk for kid: %s", kid)
	}
	if set.Len() == 1 {
		key, _ := set.Key(0)
		var pub any
		if err := key.Raw(&pub); err != nil {
			return nil, err
		}
		return pub, nil
	}
	return nil, fmt.Errorf("token has no kid and the key set has %d keys", set.Len())
}
