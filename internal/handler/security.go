package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/dotandbo/spree/internal/domain/auth"
	"github.com/dotandbo/spree/internal/domain/cart"
)

const (
	headerAPIKey     = "X-Spree-Token"
	headerOrderToken = "X-Spree-Order-Token"
)

// errInvalidKey is returned for API keys that do not resolve to a user.
var errInvalidKey = errors.New("invalid api key")

// Authenticator resolves API keys to users through the HMAC-SHA256 hash
// stored for each key.
type Authenticator struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAuthenticator creates an Authenticator with the given API key
// repository and HMAC pepper.
func NewAuthenticator(apikeys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate returns the user owning key.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*auth.APIUser, error) {
	hash := auth.HashKey(key, a.pepper)

	user, err := a.apikeys.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			return nil, errInvalidKey
		}
		return nil, errors.Wrap(err, "find api key")
	}

	// The repository matched on the hash; compare again in constant time so a
	// wrong row can never authenticate.
	want, err := hex.DecodeString(hash)
	if err != nil {
		return nil, errors.Wrap(err, "decode hash")
	}
	got, err := hex.DecodeString(user.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(want, got) != 1 {
		return nil, errInvalidKey
	}
	return user, nil
}

type userKey struct{}

// authenticate resolves the optional API key of the request. Requests
// without a key continue anonymously; an invalid key is rejected.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerAPIKey)
		if key == "" {
			key = r.URL.Query().Get("token")
		}
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		user, err := h.auth.Authenticate(ctx, key)
		switch {
		case errors.Is(err, errInvalidKey):
			zctx.From(ctx).Info("Invalid API key")
			writeError(w, r, http.StatusUnauthorized, "Invalid API key ("+key+") specified.")
			return
		case err != nil:
			zctx.From(ctx).Error("Authenticate", zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, msgInternal)
			return
		}

		ctx = zctx.With(context.WithValue(ctx, userKey{}, user), zap.Int64("api_key_id", user.KeyID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// credentials collects the API user and order token of r.
func credentials(r *http.Request) cart.Credentials {
	user, _ := r.Context().Value(userKey{}).(*auth.APIUser)
	token := r.Header.Get(headerOrderToken)
	if token == "" {
		token = r.URL.Query().Get("order_token")
	}
	return cart.Credentials{User: user, OrderToken: token}
}
