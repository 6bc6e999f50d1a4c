// Package application 费用引擎应用服务
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/primeshares/feeengine/internal/feeengine/domain"
	"github.com/primeshares/feeengine/pkg/metrics"
	"github.com/primeshares/feeengine/pkg/utils"
)

// ScheduleCache 已解析费率表的缓存抽象，pkg/cache 的 Redis 实现满足该接口
type ScheduleCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Options 服务级默认项
type Options struct {
	// DefaultTemplate 无费率配置 Deal 的回退模板名，空值表示不回退
	DefaultTemplate string
	// ScheduleCacheTTL 费率表缓存有效期
	ScheduleCacheTTL time.Duration
	// UnitRounding 请求未指定时的份额取整策略
	UnitRounding domain.UnitRounding
}

// FeeService 费用计算应用服务。
// 引擎本身是纯函数，此处负责编排：费率解析、缓存、落库、事件与批量作业。
type FeeService struct {
	scheduleRepo domain.ScheduleRepository
	appRepo      domain.FeeApplicationRepository
	txnRepo      domain.TransactionRepository
	templates    domain.TemplateStore
	publisher    domain.EventPublisher
	cache        ScheduleCache
	metrics      *metrics.Metrics
	idgen        *utils.SnowflakeID
	opts         Options
	logger       *slog.Logger
}

// NewFeeService 创建应用服务，cache/metrics 可为 nil（测试或本地环境）
func NewFeeService(
	scheduleRepo domain.ScheduleRepository,
	appRepo domain.FeeApplicationRepository,
	txnRepo domain.TransactionRepository,
	templates domain.TemplateStore,
	publisher domain.EventPublisher,
	cache ScheduleCache,
	m *metrics.Metrics,
	opts Options,
	logger *slog.Logger,
) *FeeService {
	if opts.UnitRounding.Mode == "" {
		opts.UnitRounding = domain.DefaultUnitRounding()
	}
	return &FeeService{
		scheduleRepo: scheduleRepo,
		appRepo:      appRepo,
		txnRepo:      txnRepo,
		templates:    templates,
		publisher:    publisher,
		cache:        cache,
		metrics:      m,
		idgen:        utils.NewSnowflakeID(1),
		opts:         opts,
		logger:       logger.With("module", "fee_service"),
	}
}

func scheduleCacheKey(dealID string) string {
	return "feeengine:schedule:" + dealID
}

// ResolveSchedule 解析某个 Deal 的有序费用组件列表。
// 无配置时返回空列表而非错误，由调用方决定是否回退模板；
// 空列表的含义是"未计算"，不是零费用。
func (s *FeeService) ResolveSchedule(ctx context.Context, dealID string) ([]domain.FeeComponent, error) {
	key := scheduleCacheKey(dealID)
	if s.cache != nil {
		var cached []domain.FeeComponent
		if hit, err := s.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	rows, err := s.scheduleRepo.ListByDeal(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("list schedule for deal %s: %w", dealID, err)
	}

	components, defaulted := domain.ResolveComponents(rows)
	if defaulted > 0 {
		// 基数回退为 NET 是既定策略但可能掩盖录入错误，计数以便追查
		s.logger.WarnContext(ctx, "schedule rows with unrecognized basis defaulted to NET",
			"deal_id", dealID, "defaulted", defaulted)
		if s.metrics != nil {
			s.metrics.BasisDefaultedTotal.Add(float64(defaulted))
		}
	}

	if s.cache != nil && len(components) > 0 {
		if err := s.cache.SetJSON(ctx, key, components, s.opts.ScheduleCacheTTL); err != nil {
			s.logger.WarnContext(ctx, "failed to cache schedule", "deal_id", dealID, "error", err)
		}
	}
	return components, nil
}

// GetScheduleView 查询 Deal 当前配置（不走缓存，历史重复行保持可见）
func (s *FeeService) GetScheduleView(ctx context.Context, dealID string) (*ScheduleView, error) {
	rows, err := s.scheduleRepo.ListByDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	components, defaulted := domain.ResolveComponents(rows)
	view := &ScheduleView{DealID: dealID, DefaultedBases: defaulted}
	for _, c := range components {
		view.Components = append(view.Components, ScheduleComponent{
			Kind:       string(c.Kind),
			Basis:      string(c.Basis),
			IsPercent:  c.IsPercent,
			Rate:       c.Rate.String(),
			Precedence: c.Precedence,
		})
	}
	return view, nil
}

// Calculate 解析费率并执行单笔计算，不落库
func (s *FeeService) Calculate(ctx context.Context, cmd CalculateCmd) (*domain.CalculationResult, error) {
	components, err := s.componentsFor(ctx, cmd)
	if err != nil {
		return nil, err
	}

	facts := s.factsFor(cmd)
	result, err := domain.Calculate(components, facts, cmd.Discounts)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CalculationsTotal.Inc()
		if !result.Validation.Valid {
			s.metrics.ValidationFailuresTotal.Inc()
		}
	}
	if !result.Validation.Valid {
		s.logger.WarnContext(ctx, "calculation completed with validation failures",
			"transaction_id", cmd.TransactionID,
			"deal_id", cmd.DealID,
			"reasons", result.Validation.Reasons)
	}
	return result, nil
}

// CalculateAndPersist 计算并幂等落库费用流水，随后发布领域事件。
// 事件发布失败只记日志，不回滚已落库的计算结果。
func (s *FeeService) CalculateAndPersist(ctx context.Context, cmd CalculateCmd) (*domain.CalculationResult, error) {
	// 未携带交易 ID 视为新交易，服务端发号；重算必须携带原 ID 才能幂等覆盖
	if cmd.TransactionID == "" {
		cmd.TransactionID = "txn-" + strconv.FormatInt(s.idgen.Generate(), 10)
	}

	result, err := s.Calculate(ctx, cmd)
	if err != nil {
		return nil, err
	}

	facts := s.factsFor(cmd)
	if err := s.txnRepo.Save(ctx, &facts); err != nil {
		return nil, fmt.Errorf("save transaction facts: %w", err)
	}

	rows := result.Applications()
	if err := s.appRepo.UpsertAll(ctx, rows); err != nil {
		return nil, fmt.Errorf("persist fee applications: %w", err)
	}
	if s.metrics != nil {
		s.metrics.FeesAppliedTotal.Add(float64(len(rows)))
	}

	event := domain.FeesCalculatedEvent{
		TransactionID: result.TransactionID,
		DealID:        result.DealID,
		GrossCapital:  result.GrossCapital.String(),
		NetCapital:    result.NetCapital.String(),
		Units:         result.Units.String(),
		Valid:         result.Validation.Valid,
		Components:    len(result.AppliedFees),
	}
	if err := s.publisher.PublishFeesCalculated(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish fees calculated event",
			"transaction_id", result.TransactionID, "error", err)
	}

	return result, nil
}

// AssignTemplate 将命名模板分配给 Deal：旧配置整表取代、缓存失效、发布事件
func (s *FeeService) AssignTemplate(ctx context.Context, dealID, templateName string) (*AssignResult, error) {
	template, ok := s.templates.Get(templateName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTemplate, templateName)
	}

	rows := domain.ScheduleFromTemplate(dealID, template)
	replaced, err := s.scheduleRepo.ReplaceForDeal(ctx, dealID, rows)
	if err != nil {
		return nil, fmt.Errorf("replace schedule for deal %s: %w", dealID, err)
	}
	s.invalidateSchedule(ctx, dealID)

	event := domain.ScheduleReplacedEvent{
		DealID:       dealID,
		TemplateName: templateName,
		Replaced:     replaced,
		Created:      len(rows),
	}
	if err := s.publisher.PublishScheduleReplaced(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish schedule replaced event",
			"deal_id", dealID, "error", err)
	}

	return &AssignResult{
		DealID:       dealID,
		TemplateName: templateName,
		Replaced:     replaced,
		Created:      len(rows),
	}, nil
}

// DedupSchedule 显式去重维护操作：同一组件多行配置时保留最权威一行并汇报移除
func (s *FeeService) DedupSchedule(ctx context.Context, dealID string) (*DedupReport, error) {
	rows, err := s.scheduleRepo.ListByDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	kept, removed := domain.DeduplicateSchedule(rows)
	report := &DedupReport{DealID: dealID, Kept: len(kept), Removed: len(removed)}
	for _, row := range removed {
		report.RemovedIDs = append(report.RemovedIDs, row.ID)
	}

	if len(removed) > 0 {
		if err := s.scheduleRepo.DeleteByIDs(ctx, report.RemovedIDs); err != nil {
			return nil, fmt.Errorf("delete duplicate schedule rows: %w", err)
		}
		s.invalidateSchedule(ctx, dealID)
		s.logger.InfoContext(ctx, "schedule duplicates removed",
			"deal_id", dealID, "removed", len(removed))
	}
	return report, nil
}

// RecalculateAll 批量重算全部交易并与已落库流水对账。
// 交易间相互独立：单笔失败记录后继续，批次不中止；
// 每笔之间检查 ctx 以支持提前终止，计算内部不可中断。
func (s *FeeService) RecalculateAll(ctx context.Context) (*RevalidationReport, error) {
	start := time.Now()
	txns, err := s.txnRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	report := &RevalidationReport{Total: len(txns)}
	for _, facts := range txns {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := s.recalculateOne(ctx, facts)
		if err != nil {
			report.Failures = append(report.Failures, TransactionFailure{
				TransactionID: facts.TransactionID,
				Error:         err.Error(),
			})
			continue
		}
		report.Recalculated++
		if !result.Validation.Valid {
			report.Invalid++
		}

		stored, err := s.appRepo.ListByTransaction(ctx, facts.TransactionID)
		if err != nil {
			report.Failures = append(report.Failures, TransactionFailure{
				TransactionID: facts.TransactionID,
				Error:         fmt.Sprintf("list stored applications: %v", err),
			})
			continue
		}
		report.Discrepancies = append(report.Discrepancies, diffApplications(facts.TransactionID, stored, result)...)
	}

	if s.metrics != nil {
		s.metrics.BatchRecalcDuration.Observe(time.Since(start).Seconds())
	}
	s.logger.InfoContext(ctx, "batch recalculation finished",
		"total", report.Total,
		"recalculated", report.Recalculated,
		"invalid", report.Invalid,
		"failures", len(report.Failures),
		"discrepancies", len(report.Discrepancies),
		"duration", time.Since(start))
	return report, nil
}

func (s *FeeService) recalculateOne(ctx context.Context, facts *domain.TransactionFacts) (*domain.CalculationResult, error) {
	components, err := s.componentsFor(ctx, CalculateCmd{DealID: facts.DealID})
	if err != nil {
		return nil, err
	}
	// 重放落库的原始折扣，与首次计算保持同一口径
	return domain.Calculate(components, *facts, facts.Discounts)
}

// componentsFor 解析计算用组件：Deal 配置优先，空配置回退模板
func (s *FeeService) componentsFor(ctx context.Context, cmd CalculateCmd) ([]domain.FeeComponent, error) {
	components, err := s.ResolveSchedule(ctx, cmd.DealID)
	if err != nil {
		return nil, err
	}
	if len(components) > 0 {
		return components, nil
	}

	name := cmd.TemplateName
	if name == "" {
		name = s.opts.DefaultTemplate
	}
	if name == "" {
		return nil, domain.ErrScheduleNotConfigured
	}
	template, ok := s.templates.Get(name)
	if !ok {
		if cmd.TemplateName != "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTemplate, name)
		}
		return nil, domain.ErrScheduleNotConfigured
	}
	return domain.SortComponents(template.Components), nil
}

func (s *FeeService) factsFor(cmd CalculateCmd) domain.TransactionFacts {
	rounding := s.opts.UnitRounding
	if cmd.UnitRounding != nil {
		rounding = *cmd.UnitRounding
	}
	return domain.TransactionFacts{
		TransactionID:      cmd.TransactionID,
		DealID:             cmd.DealID,
		GrossCapital:       cmd.GrossCapital,
		UnitPrice:          cmd.UnitPrice,
		PurchaseSharePrice: cmd.PurchaseSharePrice,
		SaleSharePrice:     cmd.SaleSharePrice,
		Years:              cmd.Years,
		UnitRounding:       rounding,
		Discounts:          cmd.Discounts,
	}
}

func (s *FeeService) invalidateSchedule(ctx context.Context, dealID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, scheduleCacheKey(dealID)); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate schedule cache",
			"deal_id", dealID, "error", err)
	}
}

// diffApplications 对比重算结果与已落库流水，金额不一致即记为差异
func diffApplications(transactionID string, stored []domain.FeeApplication, result *domain.CalculationResult) []Discrepancy {
	recalced := make(map[domain.ComponentKind]domain.AppliedFee, len(result.AppliedFees))
	for _, f := range result.AppliedFees {
		recalced[f.Kind] = f
	}

	var diffs []Discrepancy
	seen := make(map[domain.ComponentKind]bool, len(stored))
	for _, row := range stored {
		seen[row.Kind] = true
		fee, ok := recalced[row.Kind]
		if !ok {
			diffs = append(diffs, Discrepancy{
				TransactionID: transactionID,
				Component:     string(row.Kind),
				Stored:        row.Amount.String(),
				Recalculated:  "",
			})
			continue
		}
		if !row.Amount.Equal(fee.Amount) {
			diffs = append(diffs, Discrepancy{
				TransactionID: transactionID,
				Component:     string(row.Kind),
				Stored:        row.Amount.String(),
				Recalculated:  fee.Amount.String(),
			})
		}
	}
	for _, f := range result.AppliedFees {
		if !seen[f.Kind] {
			diffs = append(diffs, Discrepancy{
				TransactionID: transactionID,
				Component:     string(f.Kind),
				Stored:        "",
				Recalculated:  f.Amount.String(),
			})
		}
	}
	return diffs
}
