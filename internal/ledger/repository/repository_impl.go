package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

type creditsRow struct {
	Credits int64
}

func (r *repo) IncrementCredits(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, now time.Time) (int64, bool, error) {
	var rows []creditsRow
	err := db.WithContext(ctx).Raw(
		`UPDATE users SET credits = credits + ?, updated_at = ?
		 WHERE id = ?
		 RETURNING credits`,
		amount, now, userID,
	).Scan(&rows).Error
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Credits, true, nil
}

func (r *repo) DecrementCredits(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, now time.Time) (int64, bool, error) {
	var rows []creditsRow
	err := db.WithContext(ctx).Raw(
		`UPDATE users SET credits = credits - ?, updated_at = ?
		 WHERE id = ? AND credits >= ?
		 RETURNING credits`,
		amount, now, userID, amount,
	).Scan(&rows).Error
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Credits, true, nil
}

func (r *repo) FindBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*ledgerdomain.BalanceRow, error) {
	var row ledgerdomain.BalanceRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, credits, credit_threshold, grace_period_end FROM users WHERE id = ?`,
		userID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) UpdateThreshold(ctx context.Context, db *gorm.DB, userID snowflake.ID, threshold *int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE users SET credit_threshold = ?, updated_at = ? WHERE id = ?`,
		threshold, now, userID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateGracePeriod(ctx context.Context, db *gorm.DB, userID snowflake.ID, end *time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE users SET grace_period_end = ?, updated_at = ? WHERE id = ?`,
		end, now, userID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *ledgerdomain.Transaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO transactions (id, user_id, api_key_id, type, amount, description, status, reference, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		tx.ID,
		tx.UserID,
		tx.APIKeyID,
		tx.Type,
		tx.Amount,
		tx.Description,
		tx.Status,
		tx.Reference,
		tx.Metadata,
		tx.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, usage *ledgerdomain.APIUsage) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO api_usage (id, user_id, api_key_id, endpoint, api_service, query_type, credits_used, status, response_time_ms, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.ID,
		usage.UserID,
		usage.APIKeyID,
		usage.Endpoint,
		usage.APIService,
		usage.QueryType,
		usage.CreditsUsed,
		usage.Status,
		usage.ResponseTimeMs,
		usage.Metadata,
		usage.CreatedAt,
	).Error
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeID int64, limit int) ([]*ledgerdomain.Transaction, error) {
	query := `SELECT id, user_id, api_key_id, type, amount, description, status, reference, metadata, created_at
		FROM transactions WHERE user_id = ?`
	args := []any{userID}
	if beforeID > 0 {
		query += ` AND id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var items []*ledgerdomain.Transaction
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListUsage(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeID int64, limit int) ([]*ledgerdomain.APIUsage, error) {
	query := `SELECT id, user_id, api_key_id, endpoint, api_service, query_type, credits_used, status, response_time_ms, metadata, created_at
		FROM api_usage WHERE user_id = ?`
	args := []any{userID}
	if beforeID > 0 {
		query += ` AND id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var items []*ledgerdomain.APIUsage
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = ? AND status = ?`,
		userID, ledgerdomain.TransactionStatusSuccess,
	).Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return sum, nil
}
