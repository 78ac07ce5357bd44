package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/creditledger/internal/apikey/domain"
	"gorm.io/gorm"
)

const keyColumns = `id, user_id, key_value, name, is_active, last_used_at, created_at, updated_at`

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO api_keys (`+keyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.UserID,
		key.Key,
		key.Name,
		key.IsActive,
		key.LastUsedAt,
		key.CreatedAt,
		key.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT `+keyColumns+` FROM api_keys WHERE id = ?`,
		id,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, raw string) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT `+keyColumns+` FROM api_keys WHERE key_value = ?`,
		raw,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]apikeydomain.APIKey, error) {
	var keys []apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT `+keyColumns+` FROM api_keys WHERE user_id = ? ORDER BY id DESC`,
		userID,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE api_keys SET is_active = ?, updated_at = ? WHERE id = ? AND is_active = ?`,
		false, now, id, true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		now, id,
	).Error
}

func (r *repo) UserCredits(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, bool, error) {
	var rows []struct {
		Credits int64
	}
	err := db.WithContext(ctx).Raw(`SELECT credits FROM users WHERE id = ?`, userID).Scan(&rows).Error
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Credits, true, nil
}

// DeleteUserData removes dependents before the user row. Callers run it inside a transaction.
func (r *repo) DeleteUserData(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*apikeydomain.CascadeReport, error) {
	db = db.WithContext(ctx)
	report := &apikeydomain.CascadeReport{UserID: userID}

	usage := db.Exec(`DELETE FROM api_usage WHERE user_id = ?`, userID)
	if usage.Error != nil {
		return nil, usage.Error
	}
	report.UsageRemoved = usage.RowsAffected

	txs := db.Exec(`DELETE FROM transactions WHERE user_id = ?`, userID)
	if txs.Error != nil {
		return nil, txs.Error
	}
	report.TransactionsRemoved = txs.RowsAffected

	keys := db.Exec(`DELETE FROM api_keys WHERE user_id = ?`, userID)
	if keys.Error != nil {
		return nil, keys.Error
	}
	report.KeysRemoved = int(keys.RowsAffected)

	if err := db.Exec(`UPDATE users SET parent_user_id = NULL WHERE parent_user_id = ?`, userID).Error; err != nil {
		return nil, err
	}
	user := db.Exec(`DELETE FROM users WHERE id = ?`, userID)
	if user.Error != nil {
		return nil, user.Error
	}
	if user.RowsAffected == 0 {
		return nil, apikeydomain.ErrUserNotFound
	}
	return report, nil
}
