package domain

import (
	"context"
)

// ScheduleRepository 费率表配置仓储接口
type ScheduleRepository interface {
	ListByDeal(ctx context.Context, dealID string) ([]*ScheduleComponent, error)
	// ReplaceForDeal 在单个事务内整表替换 Deal 的费率配置，返回被取代的行数
	ReplaceForDeal(ctx context.Context, dealID string, rows []*ScheduleComponent) (int, error)
	DeleteByIDs(ctx context.Context, ids []uint) error
}

// FeeApplicationRepository 费用流水仓储接口。
// 落库以 (transaction_id, component) 唯一键幂等 upsert，
// 同一交易重复计算不会产生重复行。
type FeeApplicationRepository interface {
	UpsertAll(ctx context.Context, rows []FeeApplication) error
	ListByTransaction(ctx context.Context, transactionID string) ([]FeeApplication, error)
}

// TransactionRepository 交易事实仓储接口，供批量重算/校验作业遍历
type TransactionRepository interface {
	Save(ctx context.Context, facts *TransactionFacts) error
	GetByID(ctx context.Context, transactionID string) (*TransactionFacts, error)
	ListAll(ctx context.Context) ([]*TransactionFacts, error)
}
