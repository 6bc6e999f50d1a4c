package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/primeshares/feeengine/internal/feeengine/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type fakeScheduleRepo struct {
	rows       map[string][]*domain.ScheduleComponent
	listErr    error
	replaced   []string
	deletedIDs []uint
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{rows: make(map[string][]*domain.ScheduleComponent)}
}

func (f *fakeScheduleRepo) ListByDeal(_ context.Context, dealID string) ([]*domain.ScheduleComponent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.rows[dealID], nil
}

func (f *fakeScheduleRepo) ReplaceForDeal(_ context.Context, dealID string, rows []*domain.ScheduleComponent) (int, error) {
	replaced := len(f.rows[dealID])
	f.rows[dealID] = rows
	f.replaced = append(f.replaced, dealID)
	return replaced, nil
}

func (f *fakeScheduleRepo) DeleteByIDs(_ context.Context, ids []uint) error {
	f.deletedIDs = append(f.deletedIDs, ids...)
	return nil
}

type fakeAppRepo struct {
	upserted []domain.FeeApplication
	stored   map[string][]domain.FeeApplication
}

func newFakeAppRepo() *fakeAppRepo {
	return &fakeAppRepo{stored: make(map[string][]domain.FeeApplication)}
}

func (f *fakeAppRepo) UpsertAll(_ context.Context, rows []domain.FeeApplication) error {
	f.upserted = append(f.upserted, rows...)
	for _, row := range rows {
		existing := f.stored[row.TransactionID]
		replaced := false
		for i := range existing {
			if existing[i].Kind == row.Kind {
				existing[i] = row
				replaced = true
			}
		}
		if !replaced {
			existing = append(existing, row)
		}
		f.stored[row.TransactionID] = existing
	}
	return nil
}

func (f *fakeAppRepo) ListByTransaction(_ context.Context, transactionID string) ([]domain.FeeApplication, error) {
	return f.stored[transactionID], nil
}

type fakeTxnRepo struct {
	saved []*domain.TransactionFacts
	all   []*domain.TransactionFacts
}

func (f *fakeTxnRepo) Save(_ context.Context, facts *domain.TransactionFacts) error {
	f.saved = append(f.saved, facts)
	return nil
}

func (f *fakeTxnRepo) GetByID(_ context.Context, transactionID string) (*domain.TransactionFacts, error) {
	for _, facts := range f.all {
		if facts.TransactionID == transactionID {
			return facts, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeTxnRepo) ListAll(_ context.Context) ([]*domain.TransactionFacts, error) {
	return f.all, nil
}

type fakePublisher struct {
	feesEvents     []domain.FeesCalculatedEvent
	scheduleEvents []domain.ScheduleReplacedEvent
}

func (f *fakePublisher) PublishFeesCalculated(_ context.Context, e domain.FeesCalculatedEvent) error {
	f.feesEvents = append(f.feesEvents, e)
	return nil
}

func (f *fakePublisher) PublishScheduleReplaced(_ context.Context, e domain.ScheduleReplacedEvent) error {
	f.scheduleEvents = append(f.scheduleEvents, e)
	return nil
}

type fakeCache struct {
	entries map[string][]byte
	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (f *fakeCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	data, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (f *fakeCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.entries[key] = data
	return nil
}

func (f *fakeCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.entries, key)
		f.deleted = append(f.deleted, key)
	}
	return nil
}

type fixture struct {
	service      *FeeService
	scheduleRepo *fakeScheduleRepo
	appRepo      *fakeAppRepo
	txnRepo      *fakeTxnRepo
	publisher    *fakePublisher
	cache        *fakeCache
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		scheduleRepo: newFakeScheduleRepo(),
		appRepo:      newFakeAppRepo(),
		txnRepo:      &fakeTxnRepo{},
		publisher:    &fakePublisher{},
		cache:        newFakeCache(),
	}
	f.service = NewFeeService(
		f.scheduleRepo,
		f.appRepo,
		f.txnRepo,
		domain.NewDefaultTemplateStore(),
		f.publisher,
		f.cache,
		nil,
		opts,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return f
}

func standardCmd() CalculateCmd {
	return CalculateCmd{
		TransactionID: "txn-1",
		DealID:        "deal-1",
		GrossCapital:  d("100000"),
		UnitPrice:     d("1000"),
	}
}

func dealSchedule(dealID string) []*domain.ScheduleComponent {
	return []*domain.ScheduleComponent{
		{DealID: dealID, Kind: domain.KindPremium, RawBasis: "GROSS", IsPercent: true, Rate: d("0.1"), Precedence: 1},
		{DealID: dealID, Kind: domain.KindStructuring, RawBasis: "GROSS", IsPercent: true, Rate: d("0.05"), Precedence: 2},
	}
}

func TestCalculate_UsesDealSchedule(t *testing.T) {
	f := newFixture(Options{})
	f.scheduleRepo.rows["deal-1"] = dealSchedule("deal-1")

	result, err := f.service.Calculate(context.Background(), standardCmd())
	require.NoError(t, err)

	require.Len(t, result.AppliedFees, 2)
	assert.Equal(t, "15000", result.TransferPreDiscount.String())
	assert.Equal(t, "85000", result.NetCapital.String())
}

func TestCalculate_FallsBackToDefaultTemplate(t *testing.T) {
	f := newFixture(Options{DefaultTemplate: domain.TemplateStandardSecondaryV1})

	result, err := f.service.Calculate(context.Background(), standardCmd())
	require.NoError(t, err)

	// 二级市场模板：1.5% 结构费 + 1.75% 管理费
	require.Len(t, result.AppliedFees, 2)
	assert.Equal(t, domain.KindStructuring, result.AppliedFees[0].Kind)
	assert.Equal(t, "1500", result.AppliedFees[0].Amount.String())
}

func TestCalculate_RequestTemplateBeatsDefault(t *testing.T) {
	f := newFixture(Options{DefaultTemplate: domain.TemplateStandardPrimaryV1})

	cmd := standardCmd()
	cmd.TemplateName = domain.TemplateLegacyFlatV1
	result, err := f.service.Calculate(context.Background(), cmd)
	require.NoError(t, err)

	require.Len(t, result.AppliedFees, 1)
	assert.Equal(t, "5000", result.AppliedFees[0].Amount.String())
}

func TestCalculate_NoScheduleNoTemplate(t *testing.T) {
	f := newFixture(Options{})

	_, err := f.service.Calculate(context.Background(), standardCmd())
	assert.ErrorIs(t, err, domain.ErrScheduleNotConfigured)
}

func TestCalculate_UnknownNamedTemplate(t *testing.T) {
	f := newFixture(Options{})

	cmd := standardCmd()
	cmd.TemplateName = "NO_SUCH_TEMPLATE"
	_, err := f.service.Calculate(context.Background(), cmd)
	assert.ErrorIs(t, err, domain.ErrUnknownTemplate)
}

func TestCalculateAndPersist(t *testing.T) {
	f := newFixture(Options{})
	f.scheduleRepo.rows["deal-1"] = dealSchedule("deal-1")

	result, err := f.service.CalculateAndPersist(context.Background(), standardCmd())
	require.NoError(t, err)

	require.Len(t, f.txnRepo.saved, 1)
	assert.Equal(t, "txn-1", f.txnRepo.saved[0].TransactionID)

	require.Len(t, f.appRepo.upserted, 2)
	assert.Equal(t, "txn-1", f.appRepo.upserted[0].TransactionID)
	assert.Equal(t, domain.KindPremium, f.appRepo.upserted[0].Kind)

	require.Len(t, f.publisher.feesEvents, 1)
	assert.Equal(t, result.NetCapital.String(), f.publisher.feesEvents[0].NetCapital)
}

func TestCalculateAndPersist_GeneratesTransactionID(t *testing.T) {
	f := newFixture(Options{})
	f.scheduleRepo.rows["deal-1"] = dealSchedule("deal-1")

	cmd := standardCmd()
	cmd.TransactionID = ""
	result, err := f.service.CalculateAndPersist(context.Background(), cmd)
	require.NoError(t, err)

	assert.NotEmpty(t, result.TransactionID)
	require.Len(t, f.appRepo.upserted, 2)
	assert.Equal(t, result.TransactionID, f.appRepo.upserted[0].TransactionID)
}

func TestResolveSchedule_CachesResolvedComponents(t *testing.T) {
	f := newFixture(Options{ScheduleCacheTTL: time.Minute})
	f.scheduleRepo.rows["deal-1"] = dealSchedule("deal-1")

	components, err := f.service.ResolveSchedule(context.Background(), "deal-1")
	require.NoError(t, err)
	require.Len(t, components, 2)

	assert.Contains(t, f.cache.entries, "feeengine:schedule:deal-1")
}

func TestAssignTemplate_ReplacesAndInvalidatesCache(t *testing.T) {
	f := newFixture(Options{})
	f.scheduleRepo.rows["deal-1"] = dealSchedule("deal-1")
	f.cache.entries["feeengine:schedule:deal-1"] = []byte("{}")

	result, err := f.service.AssignTemplate(context.Background(), "deal-1", domain.TemplateStandardPrimaryV1)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Replaced)
	assert.Equal(t, 5, result.Created)
	assert.Contains(t, f.cache.deleted, "feeengine:schedule:deal-1")
	require.Len(t, f.publisher.scheduleEvents, 1)
	assert.Equal(t, domain.TemplateStandardPrimaryV1, f.publisher.scheduleEvents[0].TemplateName)
}

func TestAssignTemplate_UnknownTemplate(t *testing.T) {
	f := newFixture(Options{})

	_, err := f.service.AssignTemplate(context.Background(), "deal-1", "NO_SUCH_TEMPLATE")
	assert.ErrorIs(t, err, domain.ErrUnknownTemplate)
	assert.Empty(t, f.scheduleRepo.replaced)
}

func TestDedupSchedule(t *testing.T) {
	f := newFixture(Options{})
	rows := dealSchedule("deal-1")
	duplicate := &domain.ScheduleComponent{
		DealID: "deal-1", Kind: domain.KindStructuring, RawBasis: "GROSS",
		IsPercent: true, Rate: d("0.07"), Precedence: 9,
	}
	duplicate.ID = 99
	f.scheduleRepo.rows["deal-1"] = append(rows, duplicate)

	report, err := f.service.DedupSchedule(context.Background(), "deal-1")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Kept)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, []uint{99}, report.RemovedIDs)
	assert.Equal(t, []uint{99}, f.scheduleRepo.deletedIDs)
}

func TestDedupSchedule_NoDuplicates(t *testing.T) {
	f := newFixture(Options{})
	f.scheduleRepo.rows["deal-1"] = dealSchedule("deal-1")

	report, err := f.service.DedupSchedule(context.Background(), "deal-1")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Kept)
	assert.Zero(t, report.Removed)
	assert.Empty(t, f.scheduleRepo.deletedIDs)
}

func TestRecalculateAll(t *testing.T) {
	f := newFixture(Options{})
	f.scheduleRepo.rows["deal-1"] = dealSchedule("deal-1")

	f.txnRepo.all = []*domain.TransactionFacts{
		{TransactionID: "txn-ok", DealID: "deal-1", GrossCapital: d("100000"), UnitPrice: d("1000")},
		// 无费率配置且无默认模板，应记为失败而非中止批次
		{TransactionID: "txn-bad", DealID: "deal-unknown", GrossCapital: d("100000"), UnitPrice: d("1000")},
	}
	// 落库金额与重算结果不一致，应记为差异
	f.appRepo.stored["txn-ok"] = []domain.FeeApplication{
		{TransactionID: "txn-ok", Kind: domain.KindPremium, Amount: d("9999")},
		{TransactionID: "txn-ok", Kind: domain.KindStructuring, Amount: d("5000")},
	}

	report, err := f.service.RecalculateAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Recalculated)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "txn-bad", report.Failures[0].TransactionID)

	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, "PREMIUM", report.Discrepancies[0].Component)
	assert.Equal(t, "9999", report.Discrepancies[0].Stored)
	assert.Equal(t, "10000", report.Discrepancies[0].Recalculated)
}

func TestRecalculateAll_ReplaysPersistedDiscounts(t *testing.T) {
	f := newFixture(Options{})
	f.scheduleRepo.rows["deal-1"] = dealSchedule("deal-1")

	cmd := standardCmd()
	half := d("0.5")
	cmd.Discounts = []domain.Discount{{Kind: domain.KindStructuring, Percent: &half}}
	result, err := f.service.CalculateAndPersist(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "2500", result.AppliedFees[1].Amount.String())

	// 落库的是折后金额，重算重放同一折扣后不应报任何差异
	f.txnRepo.all = f.txnRepo.saved
	report, err := f.service.RecalculateAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Recalculated)
	assert.Empty(t, report.Failures)
	assert.Empty(t, report.Discrepancies)
}

func TestRecalculateAll_ContextCancelled(t *testing.T) {
	f := newFixture(Options{})
	f.txnRepo.all = []*domain.TransactionFacts{
		{TransactionID: "txn-1", DealID: "deal-1", GrossCapital: d("100000"), UnitPrice: d("1000")},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.RecalculateAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
