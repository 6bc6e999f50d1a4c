// Package mysql 费用引擎 GORM 仓储实现
package mysql

import (
	"context"
	"log/slog"

	"github.com/primeshares/feeengine/internal/feeengine/domain"
	"github.com/primeshares/feeengine/pkg/db"
	"github.com/primeshares/feeengine/pkg/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FeeApplicationModel 费用流水 GORM 模型。
// (transaction_id, component) 的唯一约束保证并发重算下的幂等 upsert。
type FeeApplicationModel struct {
	gorm.Model
	TransactionID string           `gorm:"column:transaction_id;uniqueIndex:uidx_txn_component;type:varchar(64);not null"`
	DealID        string           `gorm:"column:deal_id;index;type:varchar(64);not null"`
	Component     string           `gorm:"column:component;uniqueIndex:uidx_txn_component;type:varchar(32);not null"`
	Basis         string           `gorm:"column:basis;type:varchar(32);not null"`
	Amount        decimal.Decimal  `gorm:"column:amount;type:decimal(20,2);not null"`
	Percent       *decimal.Decimal `gorm:"column:percent;type:decimal(20,8)"`
	Precedence    int              `gorm:"column:precedence;not null"`
}

func (FeeApplicationModel) TableName() string { return "fee_applications" }

// TransactionModel 交易事实 GORM 模型。
// Discounts 以 JSON 落库，批量重算时重放，保证与首次计算同一口径。
type TransactionModel struct {
	gorm.Model
	TransactionID    string          `gorm:"column:transaction_id;uniqueIndex;type:varchar(64);not null"`
	DealID           string          `gorm:"column:deal_id;index;type:varchar(64);not null"`
	GrossCapital     decimal.Decimal `gorm:"column:gross_capital;type:decimal(20,2);not null"`
	UnitPrice        decimal.Decimal `gorm:"column:unit_price;type:decimal(20,8)"`
	Pmsp             decimal.Decimal `gorm:"column:pmsp;type:decimal(20,8)"`
	Isp              decimal.Decimal `gorm:"column:isp;type:decimal(20,8)"`
	Years            decimal.Decimal `gorm:"column:years;type:decimal(8,4)"`
	UnitRoundingMode string          `gorm:"column:unit_rounding_mode;type:varchar(16)"`
	UnitDecimals     int32           `gorm:"column:unit_decimals"`
	Discounts        string          `gorm:"column:discounts;type:json"`
}

func (TransactionModel) TableName() string { return "deal_transactions" }

// --- 费率表配置仓储 ---

type scheduleRepository struct {
	db     *db.DB
	logger *slog.Logger
}

// NewScheduleRepository 创建费率表配置仓储
func NewScheduleRepository(database *db.DB, logger *slog.Logger) domain.ScheduleRepository {
	return &scheduleRepository{db: database, logger: logger.With("module", "schedule_repository")}
}

func (r *scheduleRepository) ListByDeal(ctx context.Context, dealID string) ([]*domain.ScheduleComponent, error) {
	var rows []*domain.ScheduleComponent
	err := r.db.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("precedence ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *scheduleRepository) ReplaceForDeal(ctx context.Context, dealID string, rows []*domain.ScheduleComponent) (int, error) {
	replaced := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		res := tx.Where("deal_id = ?", dealID).Delete(&domain.ScheduleComponent{})
		if res.Error != nil {
			return res.Error
		}
		replaced = int(res.RowsAffected)
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return 0, err
	}
	return replaced, nil
}

func (r *scheduleRepository) DeleteByIDs(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Delete(&domain.ScheduleComponent{}, ids).Error
}

// --- 费用流水仓储 ---

type feeApplicationRepository struct {
	db     *db.DB
	logger *slog.Logger
}

// NewFeeApplicationRepository 创建费用流水仓储
func NewFeeApplicationRepository(database *db.DB, logger *slog.Logger) domain.FeeApplicationRepository {
	return &feeApplicationRepository{db: database, logger: logger.With("module", "fee_application_repository")}
}

func (r *feeApplicationRepository) UpsertAll(ctx context.Context, rows []domain.FeeApplication) error {
	for _, row := range rows {
		m := &FeeApplicationModel{
			TransactionID: row.TransactionID,
			DealID:        row.DealID,
			Component:     string(row.Kind),
			Basis:         string(row.Basis),
			Amount:        row.Amount,
			Percent:       row.Percent,
			Precedence:    row.Precedence,
		}
		err := r.db.UpsertWithConflict(ctx, m,
			[]string{"transaction_id", "component"},
			[]string{"deal_id", "basis", "amount", "percent", "precedence", "updated_at"},
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *feeApplicationRepository) ListByTransaction(ctx context.Context, transactionID string) ([]domain.FeeApplication, error) {
	var models []*FeeApplicationModel
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("precedence ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	rows := make([]domain.FeeApplication, len(models))
	for i, m := range models {
		rows[i] = domain.FeeApplication{
			TransactionID: m.TransactionID,
			DealID:        m.DealID,
			Kind:          domain.ComponentKind(m.Component),
			Basis:         domain.Basis(m.Basis),
			Amount:        m.Amount,
			Percent:       m.Percent,
			Precedence:    m.Precedence,
		}
	}
	return rows, nil
}

// --- 交易事实仓储 ---

type transactionRepository struct {
	db     *db.DB
	logger *slog.Logger
}

// NewTransactionRepository 创建交易事实仓储
func NewTransactionRepository(database *db.DB, logger *slog.Logger) domain.TransactionRepository {
	return &transactionRepository{db: database, logger: logger.With("module", "transaction_repository")}
}

func (r *transactionRepository) Save(ctx context.Context, facts *domain.TransactionFacts) error {
	m := toTransactionModel(facts)
	return r.db.UpsertWithConflict(ctx, m,
		[]string{"transaction_id"},
		[]string{"deal_id", "gross_capital", "unit_price", "pmsp", "isp", "years", "unit_rounding_mode", "unit_decimals", "discounts", "updated_at"},
	)
}

func (r *transactionRepository) GetByID(ctx context.Context, transactionID string) (*domain.TransactionFacts, error) {
	var m TransactionModel
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&m).Error
	if err != nil {
		return nil, err
	}
	return toTransactionFacts(&m), nil
}

func (r *transactionRepository) ListAll(ctx context.Context) ([]*domain.TransactionFacts, error) {
	var models []*TransactionModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]*domain.TransactionFacts, len(models))
	for i, m := range models {
		res[i] = toTransactionFacts(m)
	}
	return res, nil
}

func toTransactionModel(f *domain.TransactionFacts) *TransactionModel {
	m := &TransactionModel{
		TransactionID:    f.TransactionID,
		DealID:           f.DealID,
		GrossCapital:     f.GrossCapital,
		UnitPrice:        f.UnitPrice,
		Pmsp:             f.PurchaseSharePrice,
		Isp:              f.SaleSharePrice,
		Years:            f.Years,
		UnitRoundingMode: string(f.UnitRounding.Mode),
		UnitDecimals:     f.UnitRounding.Decimals,
	}
	if len(f.Discounts) > 0 {
		m.Discounts = utils.ToJSON(f.Discounts)
	}
	return m
}

func toTransactionFacts(m *TransactionModel) *domain.TransactionFacts {
	facts := &domain.TransactionFacts{
		TransactionID:      m.TransactionID,
		DealID:             m.DealID,
		GrossCapital:       m.GrossCapital,
		UnitPrice:          m.UnitPrice,
		PurchaseSharePrice: m.Pmsp,
		SaleSharePrice:     m.Isp,
		Years:              m.Years,
		UnitRounding: domain.UnitRounding{
			Mode:     domain.RoundingMode(m.UnitRoundingMode),
			Decimals: m.UnitDecimals,
		},
	}
	if m.Discounts != "" {
		// 折扣列不可解析时按无折扣重放，重算差异会暴露该行
		if err := utils.FromJSON(m.Discounts, &facts.Discounts); err != nil {
			facts.Discounts = nil
		}
	}
	return facts
}
