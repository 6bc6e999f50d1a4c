// Package http 费用引擎 HTTP 接口
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/primeshares/feeengine/internal/feeengine/application"
	"github.com/primeshares/feeengine/internal/feeengine/domain"
	"github.com/shopspring/decimal"
)

type Handler struct {
	service *application.FeeService
}

func NewHandler(service *application.FeeService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/fees/calculate", h.Calculate)
		api.POST("/fees/apply", h.CalculateAndPersist)
		api.GET("/deals/:id/schedule", h.GetSchedule)
		api.PUT("/deals/:id/formula", h.AssignTemplate)
		api.POST("/deals/:id/schedule/dedup", h.DedupSchedule)
		api.POST("/maintenance/revalidate", h.Revalidate)
	}
}

// DiscountReq 折扣覆盖请求项，percent 与 amount 二选一
type DiscountReq struct {
	Component string  `json:"component" binding:"required"`
	Percent   *string `json:"percent"`
	Amount    *string `json:"amount"`
}

// CalculateReq 计算请求。比例与金额字段一律使用十进制字符串，
// 比例为 [0,1] 区间小数。
type CalculateReq struct {
	TransactionID string        `json:"transaction_id"`
	DealID        string        `json:"deal_id" binding:"required"`
	GrossCapital  string        `json:"gross_capital" binding:"required"`
	UnitPrice     string        `json:"unit_price" binding:"required"`
	Pmsp          string        `json:"pmsp"`
	Isp           string        `json:"isp"`
	Years         string        `json:"years"`
	Template      string        `json:"template"`
	UnitRounding  string        `json:"unit_rounding"`
	UnitDecimals  int32         `json:"unit_decimals"`
	Discounts     []DiscountReq `json:"discounts"`
}

func (h *Handler) Calculate(c *gin.Context) {
	cmd, ok := h.bindCalculate(c)
	if !ok {
		return
	}

	result, err := h.service.Calculate(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCalculationResponse(result))
}

func (h *Handler) CalculateAndPersist(c *gin.Context) {
	cmd, ok := h.bindCalculate(c)
	if !ok {
		return
	}

	result, err := h.service.CalculateAndPersist(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCalculationResponse(result))
}

func (h *Handler) GetSchedule(c *gin.Context) {
	view, err := h.service.GetScheduleView(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// AssignTemplateReq 模板分配请求
type AssignTemplateReq struct {
	TemplateName string `json:"template_name" binding:"required"`
}

func (h *Handler) AssignTemplate(c *gin.Context) {
	var req AssignTemplateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.AssignTemplate(c.Request.Context(), c.Param("id"), req.TemplateName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) DedupSchedule(c *gin.Context) {
	report, err := h.service.DedupSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Revalidate(c *gin.Context) {
	report, err := h.service.RecalculateAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) bindCalculate(c *gin.Context) (application.CalculateCmd, bool) {
	var req CalculateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return application.CalculateCmd{}, false
	}

	gross, err := decimal.NewFromString(req.GrossCapital)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid gross_capital: " + req.GrossCapital})
		return application.CalculateCmd{}, false
	}
	unitPrice, err := decimal.NewFromString(req.UnitPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit_price: " + req.UnitPrice})
		return application.CalculateCmd{}, false
	}

	cmd := application.CalculateCmd{
		TransactionID: req.TransactionID,
		DealID:        req.DealID,
		GrossCapital:  gross,
		UnitPrice:     unitPrice,
		TemplateName:  req.Template,
	}
	var ok bool
	if cmd.PurchaseSharePrice, ok = parseOptionalDecimal(c, "pmsp", req.Pmsp); !ok {
		return application.CalculateCmd{}, false
	}
	if cmd.SaleSharePrice, ok = parseOptionalDecimal(c, "isp", req.Isp); !ok {
		return application.CalculateCmd{}, false
	}
	if cmd.Years, ok = parseOptionalDecimal(c, "years", req.Years); !ok {
		return application.CalculateCmd{}, false
	}

	if req.UnitRounding != "" {
		cmd.UnitRounding = &domain.UnitRounding{
			Mode:     domain.RoundingMode(req.UnitRounding),
			Decimals: req.UnitDecimals,
		}
	}

	for _, d := range req.Discounts {
		discount := domain.Discount{Kind: domain.ComponentKind(d.Component)}
		if d.Percent != nil {
			p, err := decimal.NewFromString(*d.Percent)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid discount percent: " + *d.Percent})
				return application.CalculateCmd{}, false
			}
			discount.Percent = &p
		}
		if d.Amount != nil {
			a, err := decimal.NewFromString(*d.Amount)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid discount amount: " + *d.Amount})
				return application.CalculateCmd{}, false
			}
			discount.Amount = &a
		}
		cmd.Discounts = append(cmd.Discounts, discount)
	}

	return cmd, true
}

// parseOptionalDecimal 解析可选十进制字段。留空返回零值；
// 非空但格式错误不得静默当零（会把录入错误算成"无溢价"），直接 400。
func parseOptionalDecimal(c *gin.Context, field, raw string) (decimal.Decimal, bool) {
	if raw == "" {
		return decimal.Decimal{}, true
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + field + ": " + raw})
		return decimal.Decimal{}, false
	}
	return v, true
}

// AppliedFeeResp 单条费用响应
type AppliedFeeResp struct {
	Component  string  `json:"component"`
	Basis      string  `json:"basis"`
	Amount     string  `json:"amount"`
	Percent    *string `json:"percent"`
	Precedence int     `json:"precedence"`
}

// CalculationResp 计算结果响应。校验结论随数字一并返回，
// 前端按告警展示而非阻断页面。
type CalculationResp struct {
	TransactionID        string           `json:"transaction_id,omitempty"`
	DealID               string           `json:"deal_id"`
	GrossCapital         string           `json:"gross_capital"`
	TransferPreDiscount  string           `json:"transfer_pre_discount"`
	TotalDiscounts       string           `json:"total_discounts"`
	TransferPostDiscount string           `json:"transfer_post_discount"`
	NetCapital           string           `json:"net_capital"`
	Units                string           `json:"units"`
	AppliedFees          []AppliedFeeResp `json:"applied_fees"`
	Valid                bool             `json:"valid"`
	Reasons              []string         `json:"reasons,omitempty"`
}

func toCalculationResponse(r *domain.CalculationResult) CalculationResp {
	resp := CalculationResp{
		TransactionID:        r.TransactionID,
		DealID:               r.DealID,
		GrossCapital:         r.GrossCapital.String(),
		TransferPreDiscount:  r.TransferPreDiscount.String(),
		TotalDiscounts:       r.TotalDiscounts.String(),
		TransferPostDiscount: r.TransferPostDiscount.String(),
		NetCapital:           r.NetCapital.String(),
		Units:                r.Units.String(),
		Valid:                r.Validation.Valid,
		Reasons:              r.Validation.Reasons,
	}
	for _, f := range r.AppliedFees {
		var percent *string
		if f.Percent != nil {
			p := f.Percent.String()
			percent = &p
		}
		resp.AppliedFees = append(resp.AppliedFees, AppliedFeeResp{
			Component:  string(f.Kind),
			Basis:      string(f.Basis),
			Amount:     f.Amount.String(),
			Percent:    percent,
			Precedence: f.Precedence,
		})
	}
	return resp
}

// respondError 配置类错误返回 4xx，其余视为内部错误
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrScheduleNotConfigured):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrUnknownTemplate),
		errors.Is(err, domain.ErrInvalidGrossCapital),
		errors.Is(err, domain.ErrMissingUnitPrice):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
