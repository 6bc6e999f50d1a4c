package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrScheduleNotConfigured = errors.New("deal has no fee schedule and no default template applies")
	ErrInvalidGrossCapital   = errors.New("gross capital must be greater than zero")
	ErrMissingUnitPrice      = errors.New("unit price is required to derive units")
	ErrUnknownTemplate       = errors.New("unknown formula template")
)

// 校验结论标识，下游（审计报表、前端）按原样展示
const (
	ReasonNegativeTransfer       = "NEGATIVE_TRANSFER"
	ReasonNegativeNetCapital     = "NEGATIVE_NET_CAPITAL"
	ReasonReconciliationMismatch = "RECONCILIATION_MISMATCH"
	ReasonPremiumOutOfRange      = "PREMIUM_OUT_OF_RANGE"
	ReasonStaleDiscountReference = "STALE_DISCOUNT_REFERENCE"
)

// TransactionFacts 单次计算的交易事实，计算期间不可变。
// PMSP/ISP（购入/发行股价）用于在费率表未直接给出溢价率时推导溢价。
// Discounts 随事实一并落库：重算必须重放原始折扣，
// 否则折后落库金额与无折扣重算结果永远对不上。
type TransactionFacts struct {
	TransactionID      string
	DealID             string
	GrossCapital       decimal.Decimal
	UnitPrice          decimal.Decimal
	PurchaseSharePrice decimal.Decimal // PMSP
	SaleSharePrice     decimal.Decimal // ISP
	Years              decimal.Decimal // 年化组件的时间跨度，零值按 1 处理
	UnitRounding       UnitRounding
	Discounts          []Discount
}

// Discount 针对特定组件的折扣覆盖，Percent 与 Amount 二选一
type Discount struct {
	Kind    ComponentKind
	Percent *decimal.Decimal // 原始金额的折扣比例 [0,1]
	Amount  *decimal.Decimal // 固定折扣金额
}

// AppliedFee 按评估顺序记录的单条费用结果。
// Percent 仅对比例型组件有值，固定金额组件为 nil。
type AppliedFee struct {
	Kind       ComponentKind
	Basis      Basis
	Amount     decimal.Decimal
	Percent    *decimal.Decimal
	Precedence int
}

// Validation 业务规则校验结论。业务违规不抛错，
// 计算照常完成并返回可审计的完整数字。
type Validation struct {
	Valid   bool
	Reasons []string
}

func (v *Validation) addReason(reason string) {
	v.Reasons = append(v.Reasons, reason)
}

func (v *Validation) fail(reason string) {
	v.Valid = false
	v.addReason(reason)
}

// CalculationResult 单次计算的完整输出，每次调用重新计算，绝不复用。
// Transfer 与 NetCapital 是同一组件序列上的两条独立累计：
// Transfer 只含初始划转成本（溢价+结构费），
// NetCapital 则被所有组件递减。
type CalculationResult struct {
	TransactionID        string
	DealID               string
	GrossCapital         decimal.Decimal
	TransferPreDiscount  decimal.Decimal
	TotalDiscounts       decimal.Decimal
	TransferPostDiscount decimal.Decimal
	NetCapital           decimal.Decimal
	Units                decimal.Decimal
	AppliedFees          []AppliedFee
	Validation           Validation
}

// FeeApplication 落库的费用流水，以 (TransactionID, Kind) 幂等去重
type FeeApplication struct {
	TransactionID string
	DealID        string
	Kind          ComponentKind
	Basis         Basis
	Amount        decimal.Decimal
	Percent       *decimal.Decimal
	Precedence    int
}

// Applications 将计算结果展开为待落库的流水行
func (r *CalculationResult) Applications() []FeeApplication {
	rows := make([]FeeApplication, 0, len(r.AppliedFees))
	for _, f := range r.AppliedFees {
		rows = append(rows, FeeApplication{
			TransactionID: r.TransactionID,
			DealID:        r.DealID,
			Kind:          f.Kind,
			Basis:         f.Basis,
			Amount:        f.Amount,
			Percent:       f.Percent,
			Precedence:    f.Precedence,
		})
	}
	return rows
}

// EventPublisher 领域事件发布接口
type EventPublisher interface {
	PublishFeesCalculated(ctx context.Context, event FeesCalculatedEvent) error
	PublishScheduleReplaced(ctx context.Context, event ScheduleReplacedEvent) error
}

// FeesCalculatedEvent 费用计算完成事件
type FeesCalculatedEvent struct {
	TransactionID string `json:"transaction_id"`
	DealID        string `json:"deal_id"`
	GrossCapital  string `json:"gross_capital"`
	NetCapital    string `json:"net_capital"`
	Units         string `json:"units"`
	Valid         bool   `json:"valid"`
	Components    int    `json:"components"`
}

// ScheduleReplacedEvent 费率表整体替换事件
type ScheduleReplacedEvent struct {
	DealID       string `json:"deal_id"`
	TemplateName string `json:"template_name"`
	Replaced     int    `json:"replaced"`
	Created      int    `json:"created"`
}
