package application

import (
	"github.com/primeshares/feeengine/internal/feeengine/domain"
	"github.com/shopspring/decimal"
)

// CalculateCmd 单笔费用计算命令
type CalculateCmd struct {
	TransactionID      string
	DealID             string
	GrossCapital       decimal.Decimal
	UnitPrice          decimal.Decimal
	PurchaseSharePrice decimal.Decimal
	SaleSharePrice     decimal.Decimal
	Years              decimal.Decimal
	// TemplateName Deal 无费率配置时的显式回退模板，空值使用服务默认
	TemplateName string
	Discounts    []domain.Discount
	// UnitRounding 为空时使用服务默认取整策略
	UnitRounding *domain.UnitRounding
}

// ScheduleView 某个 Deal 当前费率配置的查询视图
type ScheduleView struct {
	DealID     string              `json:"deal_id"`
	Components []ScheduleComponent `json:"components"`
	// DefaultedBases 基数规范化时回退为 NET 的行数
	DefaultedBases int `json:"defaulted_bases"`
}

// ScheduleComponent 配置行视图
type ScheduleComponent struct {
	Kind       string `json:"component"`
	Basis      string `json:"basis"`
	IsPercent  bool   `json:"is_percent"`
	Rate       string `json:"rate"`
	Precedence int    `json:"precedence"`
}

// AssignResult 模板分配结果
type AssignResult struct {
	DealID       string `json:"deal_id"`
	TemplateName string `json:"template_name"`
	Replaced     int    `json:"replaced"`
	Created      int    `json:"created"`
}

// DedupReport 显式去重维护操作的执行报告
type DedupReport struct {
	DealID     string `json:"deal_id"`
	Kept       int    `json:"kept"`
	Removed    int    `json:"removed"`
	RemovedIDs []uint `json:"removed_ids"`
}

// RevalidationReport 批量重算/校验作业报告。
// 单笔交易的失败不会中止批次，逐笔收集后汇总。
type RevalidationReport struct {
	Total         int                  `json:"total"`
	Recalculated  int                  `json:"recalculated"`
	Invalid       int                  `json:"invalid"`
	Failures      []TransactionFailure `json:"failures,omitempty"`
	Discrepancies []Discrepancy        `json:"discrepancies,omitempty"`
}

// TransactionFailure 批量作业中单笔交易的失败记录
type TransactionFailure struct {
	TransactionID string `json:"transaction_id"`
	Error         string `json:"error"`
}

// Discrepancy 重算结果与已落库流水的差异
type Discrepancy struct {
	TransactionID string `json:"transaction_id"`
	Component     string `json:"component"`
	Stored        string `json:"stored"`
	Recalculated  string `json:"recalculated"`
}
