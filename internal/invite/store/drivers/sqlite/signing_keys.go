package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
)

type signingKeysRepo struct {
	db dbtx
}

const signingKeyColumns = `id, kid, algorithm, private_key_encrypted, created_at, retired_at, expires_at`

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, key domain.SigningKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signing_keys (`+signingKeyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.Kid,
		key.Algorithm,
		key.PrivateKeyEncrypted,
		key.CreatedAt,
		mapOptionalTime(key.RetiredAt),
		key.ExpiresAt,
	)
	return mapConstraint(err)
}

func (r *signingKeysRepo) GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys WHERE kid = ?`, kid)
	return scanSigningKey(row)
}

func (r *signingKeysRepo) ListActiveSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+signingKeyColumns+` FROM signing_keys
		WHERE retired_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC`, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSigningKeys(rows)
}

func (r *signingKeysRepo) ListAllSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+signingKeyColumns+` FROM signing_keys
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSigningKeys(rows)
}

func (r *signingKeysRepo) RetireSigningKey(ctx context.Context, kid string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE signing_keys SET retired_at = ?
		WHERE kid = ? AND retired_at IS NULL`, time.Now().UTC(), kid)
	return err
}

func (r *signingKeysRepo) DeleteExpiredSigningKeys(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM signing_keys WHERE expires_at <= ?`, time.Now().UTC())
	return err
}

func scanSigningKey(row rowScanner) (domain.SigningKey, error) {
	var (
		key       domain.SigningKey
		retiredAt sql.NullTime
	)
	err := row.Scan(
		&key.ID,
		&key.Kid,
		&key.Algorithm,
		&key.PrivateKeyEncrypted,
		&key.CreatedAt,
		&retiredAt,
		&key.ExpiresAt,
	)
	if err != nil {
		return domain.SigningKey{}, mapNotFound(err)
	}
	key.RetiredAt = mapNullTimePtr(retiredAt)
	return key, nil
}

func scanSigningKeys(rows *sql.Rows) ([]domain.SigningKey, error) {
	var out []domain.SigningKey
	for rows.Next() {
		key, err := scanSigningKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}
