package repository

import (
	"context"
	"time"

	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Totals(ctx context.Context, db *gorm.DB, since time.Time) (int64, int64, error) {
	var row struct {
		Requests int64
		Credits  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS requests, COALESCE(SUM(credits_used), 0) AS credits
		 FROM api_usage
		 WHERE created_at >= ?`,
		since,
	).Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Requests, row.Credits, nil
}

func (r *repo) ByQueryType(ctx context.Context, db *gorm.DB, since time.Time) ([]usagedomain.QueryTypeUsage, error) {
	var rows []usagedomain.QueryTypeUsage
	err := db.WithContext(ctx).Raw(
		`SELECT query_type, COUNT(*) AS requests, COALESCE(SUM(credits_used), 0) AS credits
		 FROM api_usage
		 WHERE created_at >= ?
		 GROUP BY query_type
		 ORDER BY credits DESC, query_type ASC`,
		since,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) TopUsers(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]usagedomain.UserUsage, error) {
	var rows []usagedomain.UserUsage
	err := db.WithContext(ctx).Raw(
		`SELECT CAST(u.user_id AS TEXT) AS user_id, users.email AS email,
		        COUNT(*) AS requests, COALESCE(SUM(u.credits_used), 0) AS credits
		 FROM api_usage u
		 JOIN users ON users.id = u.user_id
		 WHERE u.created_at >= ?
		 GROUP BY u.user_id, users.email
		 ORDER BY credits DESC, requests DESC
		 LIMIT ?`,
		since, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
