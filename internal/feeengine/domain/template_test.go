package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplateStore(t *testing.T) {
	store := NewDefaultTemplateStore()

	assert.Equal(t, []string{
		TemplateLegacyFlatV1,
		TemplateStandardPrimaryV1,
		TemplateStandardSecondaryV1,
	}, store.Names())

	template, ok := store.Get(TemplateStandardPrimaryV1)
	require.True(t, ok)
	assert.Len(t, template.Components, 5)

	_, ok = store.Get("NO_SUCH_TEMPLATE")
	assert.False(t, ok)
}

func TestScheduleFromTemplate(t *testing.T) {
	rows := ScheduleFromTemplate("deal-42", StandardSecondaryV1())

	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "deal-42", row.DealID)
		assert.Equal(t, "TEMPLATE", row.Source)
	}
	assert.Equal(t, KindStructuring, rows[0].Kind)
	assert.Equal(t, "GROSS", rows[0].RawBasis)
	assert.Equal(t, "0.015", rows[0].Rate.String())
}
