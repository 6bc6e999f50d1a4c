package domain

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ScheduleComponent 费率表配置行聚合根。
// 一条记录对应一个 Deal 下的一个费用组件；Deal 的公式分配变更时
// 整表替换、从不原地修改，旧行被整体取代以保留版本语义。
// RawBasis 保留导入时的原始基数字符串供审计，解析在求值前进行。
type ScheduleComponent struct {
	gorm.Model
	DealID     string          `gorm:"column:deal_id;index:idx_deal_kind;type:varchar(64);not null"`
	Kind       ComponentKind   `gorm:"column:component;index:idx_deal_kind;type:varchar(32);not null"`
	RawBasis   string          `gorm:"column:basis;type:varchar(32);not null"`
	IsPercent  bool            `gorm:"column:is_percent;not null"`
	Rate       decimal.Decimal `gorm:"column:rate;type:decimal(20,8);not null"`
	Precedence int             `gorm:"column:precedence;not null"`
	Source     string          `gorm:"column:source;type:varchar(32);default:'TEMPLATE'"` // TEMPLATE, LEGACY_IMPORT
}

func (ScheduleComponent) TableName() string { return "fee_schedule_components" }

// ResolveComponents 将配置行解析为求值用的有序组件列表。
// 基数规范化在此完成，defaulted 返回回退为 NET 的行数供调用方记录。
// 历史重复行在此可见、不做静默去重，去重是显式的维护操作。
func ResolveComponents(rows []*ScheduleComponent) (components []FeeComponent, defaulted int) {
	components = make([]FeeComponent, 0, len(rows))
	for _, row := range rows {
		basis, recognized := NormalizeBasis(row.RawBasis)
		if !recognized {
			defaulted++
		}
		components = append(components, FeeComponent{
			Kind:       row.Kind,
			Basis:      basis,
			IsPercent:  row.IsPercent,
			Rate:       row.Rate,
			Precedence: row.Precedence,
		})
	}
	return SortComponents(components), defaulted
}

// DeduplicateSchedule 显式维护操作：同一 (Deal, 组件) 存在多行配置时，
// 保留优先级最低（最权威）的一行；优先级持平保留最近创建的一行。
// 返回保留行与待移除行，移除由调用方落库执行以便汇报。
func DeduplicateSchedule(rows []*ScheduleComponent) (kept []*ScheduleComponent, removed []*ScheduleComponent) {
	winners := make(map[ComponentKind]*ScheduleComponent, len(rows))
	for _, row := range rows {
		current, ok := winners[row.Kind]
		if !ok {
			winners[row.Kind] = row
			continue
		}
		replace := false
		switch {
		case row.Precedence < current.Precedence:
			replace = true
		case row.Precedence == current.Precedence && row.CreatedAt.After(current.CreatedAt):
			replace = true
		}
		if replace {
			removed = append(removed, current)
			winners[row.Kind] = row
		} else {
			removed = append(removed, row)
		}
	}
	// 保留原有行序，维持结果确定性
	for _, row := range rows {
		if winners[row.Kind] == row {
			kept = append(kept, row)
		}
	}
	return kept, removed
}
