package postgres

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nf-oss/archivesync/internal/domain"
)

// tokenBytes is the amount of random entropy backing a freshly minted
// bearer token, base64-encoded for transport in HTTP headers.
const tokenBytes = 32

// CreateSource mints a new Source with a random bearer token.
func (db *DB) CreateSource(ctx context.Context, name string) (domain.Source, error) {
	token, err := randomToken()
	if err != nil {
		return domain.Source{}, fmt.Errorf("historydb: generating token: %w", err)
	}

	var s domain.Source
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO sources (name, access_token, created_at)
		VALUES ($1, $2, now())
		RETURNING id, name, access_token, created_at, revoked_at`,
		name, token,
	).Scan(&s.ID, &s.Name, &s.AccessToken, &s.CreatedAt, &s.RevokedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Source{}, fmt.Errorf("historydb: creating source %q: token collision, retry", name)
		}
		return domain.Source{}, fmt.Errorf("historydb: creating source %q: %w", name, err)
	}
	return s, nil
}

// ListSources returns every source, revoked or not, ordered by id.
func (db *DB) ListSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, access_token, created_at, revoked_at FROM sources ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("historydb: ListSources: %w", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		var s domain.Source
		if err := rows.Scan(&s.ID, &s.Name, &s.AccessToken, &s.CreatedAt, &s.RevokedAt); err != nil {
			return nil, fmt.Errorf("historydb: ListSources scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RevokeSource marks a source's token invalid, idempotently.
func (db *DB) RevokeSource(ctx context.Context, id int64) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE sources SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("historydb: RevokeSource %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sources WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("historydb: RevokeSource %d: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("historydb: RevokeSource %d: %w", id, domain.ErrSourceNotFound)
		}
	}
	return nil
}

// SourceByToken resolves a bearer token to its Source, failing if unknown
// or revoked. Called on the hot path of every authenticated request, so
// serverapi wraps this with a cache (see internal/tokencache).
func (db *DB) SourceByToken(ctx context.Context, token string) (domain.Source, error) {
	var s domain.Source
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, access_token, created_at, revoked_at FROM sources WHERE access_token = $1`,
		token,
	).Scan(&s.ID, &s.Name, &s.AccessToken, &s.CreatedAt, &s.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Source{}, domain.ErrSourceNotFound
	}
	if err != nil {
		return domain.Source{}, fmt.Errorf("historydb: SourceByToken: %w", err)
	}
	if s.Revoked() {
		return domain.Source{}, domain.ErrSourceRevoked
	}
	return s, nil
}

func randomToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
