package domain

import (
	"github.com/shopspring/decimal"
)

// applyDiscounts 在基础求值完成后对逐项金额应用投资者/交易级折扣。
//
// 比例折扣按折前原始金额计算，同一组件的多条折扣互不影响基数；
// 任一组件的金额折后不低于零（钳制）。引用不存在组件的折扣被忽略，
// 记为校验告警而非错误，用于兼容指向已移除费用组件的过期覆盖。
// 空折扣列表是严格无操作，折前金额原样保留。
func applyDiscounts(fees []AppliedFee, discounts []Discount, v *Validation) decimal.Decimal {
	total := decimal.Zero
	if len(discounts) == 0 {
		return total
	}

	// 折扣基数取折前原始金额
	originals := make(map[ComponentKind]decimal.Decimal, len(fees))
	index := make(map[ComponentKind]int, len(fees))
	for i, f := range fees {
		if _, seen := index[f.Kind]; !seen {
			index[f.Kind] = i
			originals[f.Kind] = f.Amount
		}
	}

	for _, d := range discounts {
		i, ok := index[d.Kind]
		if !ok {
			v.addReason(ReasonStaleDiscountReference + ":" + string(d.Kind))
			continue
		}

		var reduction decimal.Decimal
		switch {
		case d.Percent != nil:
			reduction = originals[d.Kind].Mul(*d.Percent)
		case d.Amount != nil:
			reduction = *d.Amount
		default:
			continue
		}
		if reduction.IsNegative() {
			reduction = decimal.Zero
		}
		if reduction.GreaterThan(fees[i].Amount) {
			reduction = fees[i].Amount
		}

		fees[i].Amount = fees[i].Amount.Sub(reduction)
		total = total.Add(reduction)
	}

	return total
}
