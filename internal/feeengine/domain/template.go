package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// FormulaTemplate 命名公式模板：一组预置费用组件。
// 模板组件中溢价率为零的比例型 PREMIUM 表示按 PMSP/ISP 推导隐含溢价。
type FormulaTemplate struct {
	Name       string
	Components []FeeComponent
}

// TemplateStore 模板存储抽象。显式注入而非包级可变注册表，
// 测试可替换为自定义模板集。
type TemplateStore interface {
	Get(name string) (*FormulaTemplate, bool)
	Names() []string
}

// memoryTemplateStore 内置模板的内存实现
type memoryTemplateStore struct {
	templates map[string]*FormulaTemplate
}

// NewTemplateStore 构建包含给定模板的存储
func NewTemplateStore(templates ...*FormulaTemplate) TemplateStore {
	store := &memoryTemplateStore{templates: make(map[string]*FormulaTemplate, len(templates))}
	for _, t := range templates {
		store.templates[t.Name] = t
	}
	return store
}

// NewDefaultTemplateStore 构建含内置标准模板的存储
func NewDefaultTemplateStore() TemplateStore {
	return NewTemplateStore(StandardPrimaryV1(), StandardSecondaryV1(), LegacyFlatV1())
}

func (s *memoryTemplateStore) Get(name string) (*FormulaTemplate, bool) {
	t, ok := s.templates[name]
	return t, ok
}

func (s *memoryTemplateStore) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TemplateStandardPrimaryV1 一级市场标准模板名
const TemplateStandardPrimaryV1 = "STANDARD_PRIMARY_V1"

// TemplateStandardSecondaryV1 二级市场标准模板名
const TemplateStandardSecondaryV1 = "STANDARD_SECONDARY_V1"

// TemplateLegacyFlatV1 历史平费率模板名
const TemplateLegacyFlatV1 = "LEGACY_FLAT_V1"

// StandardPrimaryV1 一级市场标准公式：
// 推导溢价、2% 结构费按总额、2% 年化管理费与 20% 业绩费按净值、固定行政费
func StandardPrimaryV1() *FormulaTemplate {
	return &FormulaTemplate{
		Name: TemplateStandardPrimaryV1,
		Components: []FeeComponent{
			{Kind: KindPremium, Basis: BasisGross, IsPercent: true, Rate: decimal.Zero, Precedence: 1},
			{Kind: KindStructuring, Basis: BasisGross, IsPercent: true, Rate: decimal.NewFromFloat(0.02), Precedence: 2},
			{Kind: KindManagement, Basis: BasisNet, IsPercent: true, Rate: decimal.NewFromFloat(0.02), Precedence: 3},
			{Kind: KindAdmin, Basis: BasisNet, IsPercent: false, Rate: decimal.NewFromInt(250), Precedence: 4},
			{Kind: KindPerformance, Basis: BasisNetAfterPremium, IsPercent: true, Rate: decimal.NewFromFloat(0.2), Precedence: 5},
		},
	}
}

// StandardSecondaryV1 二级市场标准公式：无溢价，结构费与管理费
func StandardSecondaryV1() *FormulaTemplate {
	return &FormulaTemplate{
		Name: TemplateStandardSecondaryV1,
		Components: []FeeComponent{
			{Kind: KindStructuring, Basis: BasisGross, IsPercent: true, Rate: decimal.NewFromFloat(0.015), Precedence: 1},
			{Kind: KindManagement, Basis: BasisNet, IsPercent: true, Rate: decimal.NewFromFloat(0.0175), Precedence: 2},
		},
	}
}

// LegacyFlatV1 历史导入 Deal 的平费率公式
func LegacyFlatV1() *FormulaTemplate {
	return &FormulaTemplate{
		Name: TemplateLegacyFlatV1,
		Components: []FeeComponent{
			{Kind: KindStructuring, Basis: BasisGross, IsPercent: true, Rate: decimal.NewFromFloat(0.05), Precedence: 1},
		},
	}
}

// ScheduleFromTemplate 将模板展开为某个 Deal 的配置行
func ScheduleFromTemplate(dealID string, t *FormulaTemplate) []*ScheduleComponent {
	rows := make([]*ScheduleComponent, 0, len(t.Components))
	for _, c := range t.Components {
		rows = append(rows, &ScheduleComponent{
			DealID:     dealID,
			Kind:       c.Kind,
			RawBasis:   string(c.Basis),
			IsPercent:  c.IsPercent,
			Rate:       c.Rate,
			Precedence: c.Precedence,
			Source:     "TEMPLATE",
		})
	}
	return rows
}
