package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uzbekfilmtv/kinobot/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, telegram_id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''), used, referral_count, bonus_credits, referred_by, created_at, updated_at`

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = ?`
	row := r.db.QueryRowContext(ctx, query, telegramID)
	var u models.User
	var referredBy sql.NullInt64
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &u.Used, &u.ReferralCount, &u.BonusCredits, &referredBy, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if referredBy.Valid {
		u.ReferredBy = &referredBy.Int64
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
INSERT INTO users (telegram_id, username, first_name, last_name)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''))`
	if _, err := r.db.ExecContext(ctx, query, user.TelegramID, user.Username, user.FirstName, user.LastName); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return r.FindByTelegramID(ctx, user.TelegramID)
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID int64, username, firstName, lastName string) error {
	const query = `
UPDATE users SET username = NULLIF(?, ''), first_name = NULLIF(?, ''), last_name = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, username, firstName, lastName, userID); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// Ensure returns the existing ledger record for a Telegram user or creates
// one with zero counters. The second result reports whether a record was
// created by this call.
func (r *UserRepository) Ensure(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.User, bool, error) {
	user, err := r.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		go func() {
			_ = r.UpdateProfile(context.Background(), user.ID, username, firstName, lastName)
		}()
		return user, false, nil
	}
	newUser := &models.User{
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
	}
	created, err := r.Create(ctx, newUser)
	if err != nil {
		// Two first-contact updates can race on the unique telegram_id
		// index; the loser re-reads the winner's row.
		if existing, findErr := r.FindByTelegramID(ctx, telegramID); findErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return created, true, nil
}

// ChargeUsage increments the consumption counter by exactly one in a single
// SQL statement and returns the post-increment record. The increment never
// goes through an application-side read-modify-write, so concurrent charges
// for the same user serialize at the row and no increment is lost.
func (r *UserRepository) ChargeUsage(ctx context.Context, telegramID int64) (*models.User, error) {
	const query = `UPDATE users SET used = used + 1, updated_at = NOW() WHERE telegram_id = ?`
	res, err := r.db.ExecContext(ctx, query, telegramID)
	if err != nil {
		return nil, fmt.Errorf("charge usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("charge rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("charge usage: unknown user %d", telegramID)
	}
	return r.FindByTelegramID(ctx, telegramID)
}

// ApplyReferral credits the referrer once for this referee. The credit is
// applied only when the referrer exists, the referee exists, the two differ,
// and the referee has not been stamped before. Returns whether credit was
// applied; false is a normal outcome, not an error.
func (r *UserRepository) ApplyReferral(ctx context.Context, referrerID, refereeID int64) (bool, error) {
	if referrerID == refereeID {
		return false, nil
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin referral tx: %w", err)
	}
	defer tx.Rollback()

	var referrerRow int64
	row := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE telegram_id = ? FOR UPDATE`, referrerID)
	if err := row.Scan(&referrerRow); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lock referrer: %w", err)
	}

	// Stamp the referee only if it was never stamped; RowsAffected tells us
	// whether this call won the one-time credit.
	res, err := tx.ExecContext(ctx, `
UPDATE users SET referred_by = ?, updated_at = NOW()
WHERE telegram_id = ? AND referred_by IS NULL`, referrerID, refereeID)
	if err != nil {
		return false, fmt.Errorf("stamp referee: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("referee rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE users SET referral_count = referral_count + 1, updated_at = NOW()
WHERE telegram_id = ?`, referrerID); err != nil {
		return false, fmt.Errorf("credit referrer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit referral tx: %w", err)
	}
	return true, nil
}

// GrantBonus adds flat bonus credits to a user's allowance. Returns false
// when the user is unknown.
func (r *UserRepository) GrantBonus(ctx context.Context, telegramID int64, amount int) (bool, error) {
	const query = `UPDATE users SET bonus_credits = bonus_credits + ?, updated_at = NOW() WHERE telegram_id = ?`
	res, err := r.db.ExecContext(ctx, query, amount, telegramID)
	if err != nil {
		return false, fmt.Errorf("grant bonus: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("bonus rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *UserRepository) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT telegram_id FROM users`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan telegram id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *UserRepository) CountAndUsage(ctx context.Context) (int, int, error) {
	const query = `SELECT COUNT(*), COALESCE(SUM(used), 0) FROM users`
	var count, used int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count, &used); err != nil {
		return 0, 0, fmt.Errorf("count users: %w", err)
	}
	return count, used, nil
}
