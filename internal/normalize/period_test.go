package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/twstock-cli/internal/model"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in   string
		want string
		typ  model.PeriodType
	}{
		{"113年第2季", "2024Q2", model.PeriodQuarterly},
		{"１１３年第２季", "2024Q2", model.PeriodQuarterly},
		{"113年第四季", "2024Q4", model.PeriodQuarterly},
		{"2024Q2", "2024Q2", model.PeriodQuarterly},
		{"2024 q3", "2024Q3", model.PeriodQuarterly},
		{"113年度", "2024", model.PeriodAnnual},
		{"民國 112 年度", "2023", model.PeriodAnnual},
		{"113年06月30日", "2024Q2", model.PeriodQuarterly},
		{"112年12月31日", "2023Q4", model.PeriodQuarterly},
		{"113/03/31", "2024Q1", model.PeriodQuarterly},
		{"2024-09-30", "2024Q3", model.PeriodQuarterly},
		{"113/09", "2024M09", model.PeriodMonthly},
		{"113年9月", "2024M09", model.PeriodMonthly},
		{"2024-09", "2024M09", model.PeriodMonthly},
		{"2024/1", "2024M01", model.PeriodMonthly},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, ok := ParsePeriod(tt.in)
			assert.True(t, ok)
			assert.Equal(t, tt.want, p.Key())
			assert.Equal(t, tt.typ, p.Type)
		})
	}
}

func TestParsePeriod_NoMatch(t *testing.T) {
	for _, in := range []string{"", "資料年月", "1,234,567", "113/13", "備註：本表為合併營收"} {
		_, ok := ParsePeriod(in)
		assert.False(t, ok, in)
	}
}

func TestParsePeriod_MonthCarriesQuarter(t *testing.T) {
	p, ok := ParsePeriod("113年8月")
	assert.True(t, ok)
	assert.Equal(t, 2024, p.Year)
	assert.Equal(t, 8, p.Month)
	assert.Equal(t, 3, p.Quarter)
}
