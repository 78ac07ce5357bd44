package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
)

type Service interface {
	CreditUser(ctx context.Context, userID snowflake.ID, amount int64, txCtx TxContext) (*Balance, error)
	DebitUser(ctx context.Context, userID snowflake.ID, amount int64, txCtx TxContext, usage *UsageContext) (*Balance, error)
	AdjustCredits(ctx context.Context, req AdjustRequest) (*Balance, error)
	// TransferCredits debits the sender and credits the receiver in one database transaction.
	TransferCredits(ctx context.Context, req TransferRequest) (*Transfer, error)
	CheckThreshold(ctx context.Context, userID snowflake.ID) (*ThresholdStatus, error)
	HasActiveGracePeriod(ctx context.Context, userID snowflake.ID) (bool, error)
	SetCreditThreshold(ctx context.Context, actorID, userID snowflake.ID, threshold *int64) error
	SetGracePeriod(ctx context.Context, actorID, userID snowflake.ID, days *int) (*time.Time, error)
	ListTransactions(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*Transaction, *pagination.PageInfo, error)
	ListUsage(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*APIUsage, *pagination.PageInfo, error)
	ReconstructBalance(ctx context.Context, userID snowflake.ID) (*Reconstruction, error)
}

// BalancePropagator pushes a committed balance change to downstream caches.
// Implementations must not block and must not report failure to the caller.
type BalancePropagator interface {
	PropagateUser(ctx context.Context, userID snowflake.ID)
}
