package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/sells-group/twstock-cli/internal/model"
)

var quarterNumerals = map[string]int{"1": 1, "2": 2, "3": 3, "4": 4, "一": 1, "二": 2, "三": 3, "四": 4}

type periodPattern struct {
	re    *regexp.Regexp
	build func(m []string) (model.FiscalPeriod, bool)
}

// periodPatterns are tried in order; full dates precede year-month forms.
var periodPatterns = []periodPattern{
	{regexp.MustCompile(`(\d{2,4})年第([1-4一二三四])季`), func(m []string) (model.FiscalPeriod, bool) {
		return model.Quarter(atoi(m[1]), quarterNumerals[m[2]]), true
	}},
	{regexp.MustCompile(`(?i)(\d{4})\s*Q([1-4])`), func(m []string) (model.FiscalPeriod, bool) {
		return model.Quarter(atoi(m[1]), atoi(m[2])), true
	}},
	{regexp.MustCompile(`(\d{2,4})年(\d{1,2})月(\d{1,2})日`), quarterOfDate},
	{regexp.MustCompile(`(\d{2,4})/(\d{1,2})/(\d{1,2})`), quarterOfDate},
	{regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`), quarterOfDate},
	{regexp.MustCompile(`(\d{2,4})年(\d{1,2})月`), monthOf},
	{regexp.MustCompile(`(\d{2,4})年度`), func(m []string) (model.FiscalPeriod, bool) {
		return model.Annual(atoi(m[1])), true
	}},
	{regexp.MustCompile(`(\d{2,4})/(\d{1,2})`), monthOf},
	{regexp.MustCompile(`(\d{4})-(\d{1,2})`), monthOf},
}

// ParsePeriod finds the first period expression in s. ROC years are
// converted to Gregorian. Balance-sheet dates map to the quarter they close.
func ParsePeriod(s string) (model.FiscalPeriod, bool) {
	s = strings.Join(strings.Fields(width.Fold.String(s)), "")
	for _, p := range periodPatterns {
		m := p.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		if fp, ok := p.build(m); ok {
			return fp, true
		}
	}
	return model.FiscalPeriod{}, false
}

func quarterOfDate(m []string) (model.FiscalPeriod, bool) {
	month := atoi(m[2])
	if month < 1 || month > 12 {
		return model.FiscalPeriod{}, false
	}
	return model.Quarter(atoi(m[1]), (month+2)/3), true
}

func monthOf(m []string) (model.FiscalPeriod, bool) {
	month := atoi(m[2])
	if month < 1 || month > 12 {
		return model.FiscalPeriod{}, false
	}
	return model.Month(atoi(m[1]), month, model.PeriodMonthly), true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
