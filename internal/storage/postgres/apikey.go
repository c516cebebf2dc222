package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/dotandbo/spree/internal/domain/auth"
)

const (
	getAPIKeyByHashSQL = `SELECT id, key_hash, name, user_id, admin
	FROM api_keys WHERE key_hash = $1 AND active = TRUE`

	upsertAPIKeySQL = `INSERT INTO api_keys (key_hash, name, user_id, admin)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (key_hash) DO UPDATE SET name = EXCLUDED.name, user_id = EXCLUDED.user_id,
		admin = EXCLUDED.admin, active = TRUE
	RETURNING id`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	db DBTX
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIUser, error) {
	var u auth.APIUser
	err := r.db.QueryRow(ctx, getAPIKeyByHashSQL, hash).Scan(
		&u.KeyID, &u.KeyHash, &u.Name, &u.UserID, &u.Admin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "find api key by hash")
	}
	return &u, nil
}

// Upsert stores u keyed by its hash and sets u.KeyID.
func (r *APIKeyRepository) Upsert(ctx context.Context, u *auth.APIUser) error {
	if err := r.db.QueryRow(ctx, upsertAPIKeySQL, u.KeyHash, u.Name, u.UserID, u.Admin).Scan(&u.KeyID); err != nil {
		return errors.Wrapf(err, "upsert api key %q", u.Name)
	}
	return nil
}
