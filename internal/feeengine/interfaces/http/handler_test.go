package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/primeshares/feeengine/internal/feeengine/application"
	"github.com/primeshares/feeengine/internal/feeengine/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScheduleRepo struct {
	rows []*domain.ScheduleComponent
}

func (s *stubScheduleRepo) ListByDeal(context.Context, string) ([]*domain.ScheduleComponent, error) {
	return s.rows, nil
}

func (s *stubScheduleRepo) ReplaceForDeal(_ context.Context, _ string, rows []*domain.ScheduleComponent) (int, error) {
	replaced := len(s.rows)
	s.rows = rows
	return replaced, nil
}

func (s *stubScheduleRepo) DeleteByIDs(context.Context, []uint) error { return nil }

type stubAppRepo struct{}

func (stubAppRepo) UpsertAll(context.Context, []domain.FeeApplication) error { return nil }
func (stubAppRepo) ListByTransaction(context.Context, string) ([]domain.FeeApplication, error) {
	return nil, nil
}

type stubTxnRepo struct{}

func (stubTxnRepo) Save(context.Context, *domain.TransactionFacts) error { return nil }
func (stubTxnRepo) GetByID(context.Context, string) (*domain.TransactionFacts, error) {
	return nil, nil
}
func (stubTxnRepo) ListAll(context.Context) ([]*domain.TransactionFacts, error) { return nil, nil }

func newTestRouter(rows []*domain.ScheduleComponent) *gin.Engine {
	gin.SetMode(gin.TestMode)
	service := application.NewFeeService(
		&stubScheduleRepo{rows: rows},
		stubAppRepo{},
		stubTxnRepo{},
		domain.NewDefaultTemplateStore(),
		nil,
		nil,
		nil,
		application.Options{},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	router := gin.New()
	NewHandler(service).RegisterRoutes(router)
	return router
}

func premiumSchedule() []*domain.ScheduleComponent {
	return []*domain.ScheduleComponent{
		{DealID: "deal-1", Kind: domain.KindPremium, RawBasis: "GROSS", IsPercent: true, Precedence: 1},
	}
}

func postCalculate(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fees/calculate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCalculateEndpoint_DerivesPremiumFromSharePrices(t *testing.T) {
	router := newTestRouter(premiumSchedule())

	w := postCalculate(t, router, `{
		"deal_id": "deal-1",
		"gross_capital": "100000",
		"unit_price": "1000",
		"pmsp": "8",
		"isp": "10"
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CalculationResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.AppliedFees, 1)
	assert.Equal(t, "20000", resp.AppliedFees[0].Amount)
}

func TestCalculateEndpoint_MalformedOptionalFieldsRejected(t *testing.T) {
	router := newTestRouter(premiumSchedule())

	tests := []struct {
		name string
		body string
		want string
	}{
		// 非空但格式错误的可选字段不得静默当零
		{"bad pmsp", `{"deal_id":"d","gross_capital":"100000","unit_price":"1000","pmsp":"abc","isp":"10"}`, "invalid pmsp"},
		{"bad isp", `{"deal_id":"d","gross_capital":"100000","unit_price":"1000","pmsp":"8","isp":"??"}`, "invalid isp"},
		{"bad years", `{"deal_id":"d","gross_capital":"100000","unit_price":"1000","years":"one"}`, "invalid years"},
		{"bad gross", `{"deal_id":"d","gross_capital":"oops","unit_price":"1000"}`, "invalid gross_capital"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postCalculate(t, router, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestCalculateEndpoint_EmptyOptionalFieldsAccepted(t *testing.T) {
	router := newTestRouter(premiumSchedule())

	w := postCalculate(t, router, `{"deal_id":"deal-1","gross_capital":"100000","unit_price":"1000"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CalculationResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "0", resp.AppliedFees[0].Amount)
}
