// Package domain 交易费用计算引擎领域模型
package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ComponentKind 费用组成类型
type ComponentKind string

const (
	KindPremium     ComponentKind = "PREMIUM"
	KindStructuring ComponentKind = "STRUCTURING"
	KindManagement  ComponentKind = "MANAGEMENT"
	KindAdmin       ComponentKind = "ADMIN"
	KindPerformance ComponentKind = "PERFORMANCE"
	KindOther       ComponentKind = "OTHER"
)

// kindPriority 同一优先级下的固定评估顺序
var kindPriority = map[ComponentKind]int{
	KindPremium:     0,
	KindStructuring: 1,
	KindManagement:  2,
	KindAdmin:       3,
	KindPerformance: 4,
	KindOther:       5,
}

// IsValid 判断组件类型是否在闭集内
func (k ComponentKind) IsValid() bool {
	_, ok := kindPriority[k]
	return ok
}

// Basis 费率计算基数
type Basis string

const (
	BasisGross           Basis = "GROSS"
	BasisNet             Basis = "NET"
	BasisNetAfterPremium Basis = "NET_AFTER_PREMIUM"
)

// NormalizeBasis 将历史导入的非规范基数字符串映射到闭集。
// 未识别的值按既定业务策略回退为 NET，返回 false 供调用方计数/记录，
// 不作为静默数据丢失处理。
func NormalizeBasis(raw string) (Basis, bool) {
	switch raw {
	case "GROSS", "GROSS_CAPITAL", "FIXED":
		return BasisGross, true
	case "NET", "VALUATION":
		return BasisNet, true
	case "NET_AFTER_PREMIUM", "POST_PREMIUM":
		return BasisNetAfterPremium, true
	default:
		return BasisNet, false
	}
}

// RoundingMode 份额取整策略
type RoundingMode string

const (
	RoundFloor RoundingMode = "FLOOR"
	RoundHalf  RoundingMode = "ROUND"
	RoundCeil  RoundingMode = "CEIL"
)

// UnitRounding 份额取整配置，按 Deal 配置，默认四舍五入取整数份额
type UnitRounding struct {
	Mode     RoundingMode
	Decimals int32
}

// DefaultUnitRounding 默认份额取整策略
func DefaultUnitRounding() UnitRounding {
	return UnitRounding{Mode: RoundHalf, Decimals: 0}
}

// Apply 按策略对份额取整
func (u UnitRounding) Apply(units decimal.Decimal) decimal.Decimal {
	switch u.Mode {
	case RoundFloor:
		return units.RoundFloor(u.Decimals)
	case RoundCeil:
		return units.RoundCeil(u.Decimals)
	default:
		return units.Round(u.Decimals)
	}
}

// FeeComponent 单条费用配置：类型、基数、比例或固定金额、评估顺序。
// 比例型组件的 Rate 为 [0,1] 区间的小数（0.05 = 5%），绝不使用 0-100 整数；
// 跨越该边界的调用方（如批量导入）必须先除以 100。
type FeeComponent struct {
	Kind       ComponentKind
	Basis      Basis
	IsPercent  bool
	Rate       decimal.Decimal
	Precedence int
}

// SortComponents 按 Precedence 升序稳定排序，
// 相同优先级按组件类型固定顺序决出先后。
func SortComponents(components []FeeComponent) []FeeComponent {
	sorted := make([]FeeComponent, len(components))
	copy(sorted, components)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Precedence != sorted[j].Precedence {
			return sorted[i].Precedence < sorted[j].Precedence
		}
		return kindPriority[sorted[i].Kind] < kindPriority[sorted[j].Kind]
	})
	return sorted
}
