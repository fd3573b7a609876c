package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/droplock/internal/download/domain"
	"github.com/aussiebroadwan/droplock/internal/download/store"
)

type codesRepo struct {
	db dbtx
}

const codeColumns = `id, code, is_used, used_ip, used_at, attempts, last_attempt_at, created_at`

func (r *codesRepo) CreateCode(ctx context.Context, c domain.Code) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO download_codes (id, code, is_used, attempts, created_at)
		VALUES (?, ?, 0, 0, ?)`,
		c.ID, c.Code, c.CreatedAt.Unix(),
	)
	return mapConstraint(err)
}

func (r *codesRepo) GetCode(ctx context.Context, code string) (domain.Code, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+codeColumns+`
		FROM download_codes
		WHERE code = ?`,
		code,
	)
	return scanCode(row)
}

func (r *codesRepo) MarkCodeUsed(ctx context.Context, code, ip string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE download_codes
		SET is_used = 1, used_ip = ?, used_at = ?, attempts = 1, last_attempt_at = ?
		WHERE code = ? AND is_used = 0`,
		ip, now.Unix(), now.Unix(), code,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *codesRepo) IncrementAttempts(ctx context.Context, code string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE download_codes
		SET attempts = attempts + 1, last_attempt_at = ?
		WHERE code = ? AND is_used = 1`,
		now.Unix(), code,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *codesRepo) MostRecentRedemption(
	ctx context.Context,
	ip string,
	since time.Time,
) (domain.Code, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+codeColumns+`
		FROM download_codes
		WHERE is_used = 1 AND used_ip = ? AND used_at > ?
		ORDER BY used_at DESC
		LIMIT 1`,
		ip, since.Unix(),
	)
	return scanCode(row)
}

func (r *codesRepo) ListUnusedCodes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code
		FROM download_codes
		WHERE is_used = 0
		ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (r *codesRepo) CountCodes(ctx context.Context) (domain.Stats, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(is_used), 0)
		FROM download_codes`,
	)

	var stats domain.Stats
	if err := row.Scan(&stats.Total, &stats.Used); err != nil {
		return domain.Stats{}, err
	}
	stats.Available = stats.Total - stats.Used
	return stats, nil
}

func (r *codesRepo) DeleteAllCodes(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM download_codes`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCode(row rowScanner) (domain.Code, error) {
	var c codeRow
	err := row.Scan(
		&c.ID,
		&c.Code,
		&c.IsUsed,
		&c.UsedIP,
		&c.UsedAt,
		&c.Attempts,
		&c.LastAttemptAt,
		&c.CreatedAt,
	)
	if err != nil {
		return domain.Code{}, mapNotFound(err)
	}
	return mapCode(c), nil
}

// requireRowAffected turns a no-op UPDATE into ErrNotFound so callers notice
// state-precondition mismatches instead of silently continuing.
func requireRowAffected(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
