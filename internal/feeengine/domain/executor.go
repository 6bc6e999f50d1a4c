package domain

import (
	"github.com/shopspring/decimal"
)

// reconcileEpsilon 对账容差：绝对或相对 1e-6，取较大者
var reconcileEpsilon = decimal.New(1, -6)

// one 预置常量，避免循环内重复分配
var one = decimal.NewFromInt(1)

// Calculate 核心求值引擎：将有序费用组件与交易事实求值为逐项金额。
//
// 纯函数，无 I/O、无隐藏时钟依赖：相同输入必然产生完全一致的结果。
// 业务规则违规（净资本为负、溢价越界、过期折扣引用）不抛错，
// 记入 Validation 并继续返回可审计的完整数字；
// 仅结构性问题（本金非正、缺少单价、组件为空）返回 error。
func Calculate(components []FeeComponent, facts TransactionFacts, discounts []Discount) (*CalculationResult, error) {
	if !facts.GrossCapital.IsPositive() {
		return nil, ErrInvalidGrossCapital
	}
	if len(components) == 0 {
		return nil, ErrScheduleNotConfigured
	}
	if !facts.UnitPrice.IsPositive() {
		return nil, ErrMissingUnitPrice
	}

	result := &CalculationResult{
		TransactionID: facts.TransactionID,
		DealID:        facts.DealID,
		GrossCapital:  facts.GrossCapital,
		Validation:    Validation{Valid: true},
	}

	sorted := SortComponents(components)

	years := facts.Years
	if !years.IsPositive() {
		years = one
	}

	// 仅当存在会消费推导值的组件（零费率比例型 PREMIUM）时才推导溢价，
	// 否则越界的 PMSP/ISP 不产生与本次计算无关的告警
	var derivedPremiumRate decimal.Decimal
	for _, comp := range sorted {
		if comp.Kind == KindPremium && comp.IsPercent && comp.Rate.IsZero() {
			derivedPremiumRate = derivePremiumRate(facts, &result.Validation)
			break
		}
	}

	gross := facts.GrossCapital
	netRunning := gross
	var netAfterPremium decimal.Decimal
	netAfterPremiumSet := false
	transferPre := decimal.Zero

	for _, comp := range sorted {
		// 基数取值：NET 使用本组件扣减前的运行净值，
		// NET_AFTER_PREMIUM 未播种时回退到运行净值
		var basisValue decimal.Decimal
		switch comp.Basis {
		case BasisGross:
			basisValue = gross
		case BasisNetAfterPremium:
			if netAfterPremiumSet {
				basisValue = netAfterPremium
			} else {
				basisValue = netRunning
			}
		default:
			basisValue = netRunning
		}

		var amount decimal.Decimal
		var percent *decimal.Decimal
		if comp.IsPercent {
			rate := comp.Rate
			if comp.Kind == KindPremium && rate.IsZero() {
				rate = derivedPremiumRate
			}
			amount = basisValue.Mul(rate)
			// 管理费按年化线性计提
			if comp.Kind == KindManagement {
				amount = amount.Mul(years)
			}
			r := rate
			percent = &r
		} else {
			// 固定金额与基数数值无关，但基数仍决定扣减时点
			amount = comp.Rate
		}

		result.AppliedFees = append(result.AppliedFees, AppliedFee{
			Kind:       comp.Kind,
			Basis:      comp.Basis,
			Amount:     amount,
			Percent:    percent,
			Precedence: comp.Precedence,
		})

		// 每个组件都递减运行净值，与其自身基数无关：
		// 按 GROSS 计算的结构费依然削减后续按 NET 计费组件可见的基数
		netRunning = netRunning.Sub(amount)

		if comp.Kind == KindPremium {
			netAfterPremium = netRunning
			netAfterPremiumSet = true
		}

		// 初始划转成本仅由溢价和结构费构成，
		// 管理/业绩/行政费建模为持续性收费，不计入划转
		if comp.Kind == KindPremium || comp.Kind == KindStructuring {
			transferPre = transferPre.Add(amount)
		}
	}

	reconcileTransfer(result.AppliedFees, transferPre, &result.Validation)

	totalDiscounts := applyDiscounts(result.AppliedFees, discounts, &result.Validation)

	result.TransferPreDiscount = transferPre
	result.TotalDiscounts = totalDiscounts
	result.TransferPostDiscount = transferPre.Sub(totalDiscounts)
	result.NetCapital = netRunning
	// 份额从未取整的净资本推导，单次取整在末尾统一执行
	rounding := facts.UnitRounding
	if rounding.Mode == "" {
		rounding = DefaultUnitRounding()
	}
	result.Units = rounding.Apply(netRunning.Div(facts.UnitPrice))

	// 违规保留未钳制的原始值供审计，不清零
	if result.TransferPostDiscount.IsNegative() {
		result.Validation.fail(ReasonNegativeTransfer)
	}
	if result.NetCapital.IsNegative() {
		result.Validation.fail(ReasonNegativeNetCapital)
	}

	roundResult(result)

	return result, nil
}

// derivePremiumRate 从 PMSP/ISP 推导隐含溢价率：1 - PMSP/ISP，钳制在 [0,1]。
// 越界值按业务策略视为无溢价（率为 0）而非错误，溢价不可为负也不可超过 100%。
func derivePremiumRate(facts TransactionFacts, v *Validation) decimal.Decimal {
	if !facts.PurchaseSharePrice.IsPositive() || !facts.SaleSharePrice.IsPositive() {
		return decimal.Zero
	}
	rate := one.Sub(facts.PurchaseSharePrice.Div(facts.SaleSharePrice))
	if rate.IsNegative() || rate.GreaterThan(one) {
		v.addReason(ReasonPremiumOutOfRange)
		return decimal.Zero
	}
	return rate
}

// reconcileTransfer 校验划转组件金额之和与划转累计是否一致。
// 不一致是引擎自身的潜在缺陷信号，仅记录、不阻断返回。
func reconcileTransfer(fees []AppliedFee, transferPre decimal.Decimal, v *Validation) {
	sum := decimal.Zero
	for _, f := range fees {
		if f.Kind == KindPremium || f.Kind == KindStructuring {
			sum = sum.Add(f.Amount)
		}
	}
	diff := sum.Sub(transferPre).Abs()
	tolerance := reconcileEpsilon
	if rel := transferPre.Abs().Mul(reconcileEpsilon); rel.GreaterThan(tolerance) {
		tolerance = rel
	}
	if diff.GreaterThan(tolerance) {
		v.addReason(ReasonReconciliationMismatch)
	}
}

// roundResult 末次统一舍入：金额两位小数。
// 中间计算保持全精度，避免优先级链上的舍入误差累积。
func roundResult(r *CalculationResult) {
	for i := range r.AppliedFees {
		r.AppliedFees[i].Amount = r.AppliedFees[i].Amount.Round(2)
	}
	r.TransferPreDiscount = r.TransferPreDiscount.Round(2)
	r.TotalDiscounts = r.TotalDiscounts.Round(2)
	r.TransferPostDiscount = r.TransferPostDiscount.Round(2)
	r.NetCapital = r.NetCapital.Round(2)
}
