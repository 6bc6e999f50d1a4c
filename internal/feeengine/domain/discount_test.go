package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func TestApplyDiscounts_PercentOnOriginalAmount(t *testing.T) {
	fees := []AppliedFee{
		{Kind: KindStructuring, Amount: d("5000")},
	}
	v := Validation{Valid: true}

	total := applyDiscounts(fees, []Discount{
		{Kind: KindStructuring, Percent: dp("0.5")},
	}, &v)

	assert.Equal(t, "2500", total.String())
	assert.Equal(t, "2500", fees[0].Amount.String())
	assert.True(t, v.Valid)
}

func TestApplyDiscounts_FixedAmount(t *testing.T) {
	fees := []AppliedFee{
		{Kind: KindAdmin, Amount: d("250")},
	}
	v := Validation{Valid: true}

	total := applyDiscounts(fees, []Discount{
		{Kind: KindAdmin, Amount: dp("100")},
	}, &v)

	assert.Equal(t, "100", total.String())
	assert.Equal(t, "150", fees[0].Amount.String())
}

func TestApplyDiscounts_ClampedAtZero(t *testing.T) {
	fees := []AppliedFee{
		{Kind: KindStructuring, Amount: d("1000")},
	}
	v := Validation{Valid: true}

	total := applyDiscounts(fees, []Discount{
		{Kind: KindStructuring, Amount: dp("5000")},
	}, &v)

	// 折扣不能把单项金额折成负数
	assert.Equal(t, "1000", total.String())
	assert.Equal(t, "0", fees[0].Amount.String())
}

func TestApplyDiscounts_StackingUsesOriginalBase(t *testing.T) {
	fees := []AppliedFee{
		{Kind: KindStructuring, Amount: d("5000")},
	}
	v := Validation{Valid: true}

	// 两条各 30% 的折扣都以原始金额 5000 为基数，合计 3000 而非 3000+1050
	total := applyDiscounts(fees, []Discount{
		{Kind: KindStructuring, Percent: dp("0.3")},
		{Kind: KindStructuring, Percent: dp("0.3")},
	}, &v)

	assert.Equal(t, "3000", total.String())
	assert.Equal(t, "2000", fees[0].Amount.String())
}

func TestApplyDiscounts_StaleReferenceIgnoredWithWarning(t *testing.T) {
	fees := []AppliedFee{
		{Kind: KindStructuring, Amount: d("5000")},
	}
	v := Validation{Valid: true}

	total := applyDiscounts(fees, []Discount{
		{Kind: KindPerformance, Percent: dp("0.5")},
	}, &v)

	assert.Equal(t, "0", total.String())
	assert.Equal(t, "5000", fees[0].Amount.String())
	// 过期引用是告警不是违规
	assert.True(t, v.Valid)
	assert.Contains(t, v.Reasons, ReasonStaleDiscountReference+":PERFORMANCE")
}

func TestApplyDiscounts_NegativeReductionTreatedAsZero(t *testing.T) {
	fees := []AppliedFee{
		{Kind: KindStructuring, Amount: d("5000")},
	}
	v := Validation{Valid: true}

	total := applyDiscounts(fees, []Discount{
		{Kind: KindStructuring, Amount: dp("-100")},
	}, &v)

	assert.Equal(t, "0", total.String())
	assert.Equal(t, "5000", fees[0].Amount.String())
}

func TestCalculate_DiscountsAffectTransferNotNetCapital(t *testing.T) {
	components := []FeeComponent{
		{Kind: KindPremium, Basis: BasisGross, IsPercent: true, Rate: d("0.1"), Precedence: 1},
		{Kind: KindStructuring, Basis: BasisGross, IsPercent: true, Rate: d("0.05"), Precedence: 2},
	}

	result, err := Calculate(components, standardFacts(), []Discount{
		{Kind: KindStructuring, Percent: dp("0.2")},
	})
	require.NoError(t, err)

	assert.Equal(t, "15000", result.TransferPreDiscount.String())
	assert.Equal(t, "1000", result.TotalDiscounts.String())
	assert.Equal(t, "14000", result.TransferPostDiscount.String())
	// 折扣作用于划转金额，净资本与份额推导不受影响
	assert.Equal(t, "85000", result.NetCapital.String())
	assert.Equal(t, "4000", result.AppliedFees[1].Amount.String())
}
