package normalize

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"

	"github.com/sells-group/twstock-cli/internal/model"
)

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)`)
	plainNumber   = regexp.MustCompile(`^[-+]?\d+(?:\.\d+)?$`)
)

// minusSigns maps the minus forms seen in filings to ASCII.
var minusSigns = strings.NewReplacer("\u2212", "-", "\ufe63", "-", "\u2010", "-", "\u2011", "-")

// absentMarkers are cell texts that mean "no value". Compared after folding
// and lower-casing.
var absentMarkers = toSet("", "-", "--", "---", "\u2014", "\u2013", "n/a", "na", "不適用")

// unitWords are stripped from numeric cells. Longer words come first so
// 千元 is removed before 元.
var unitWords = []string{"新台幣", "新臺幣", "nt$", "千元", "仟元", "元", "股", "%", "$", ","}

func toSet(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// fold maps full-width forms to their ASCII equivalents and collapses
// whitespace.
func fold(s string) string {
	return collapseSpace(width.Fold.String(s))
}

// NormalizeLabel canonicalizes a header or row label for alias matching:
// full-width folded, parenthetical notes and whitespace dropped, trailing
// colons trimmed, lower-cased.
func NormalizeLabel(s string) string {
	s = width.Fold.String(s)
	s = parenthetical.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), "")
	s = strings.TrimRight(s, ":")
	return strings.ToLower(s)
}

// CoerceNumeric parses a numeric cell. Accounting negatives "(1,234)" become
// -1234; dashes and blanks are absent. After units and separators are
// stripped the cell must be a plain number, otherwise it is absent.
func CoerceNumeric(raw string) model.Value {
	s := strings.ToLower(fold(minusSigns.Replace(raw)))
	if absentMarkers[s] {
		return model.Absent()
	}
	for _, u := range unitWords {
		s = strings.ReplaceAll(s, u, "")
	}
	s = strings.Join(strings.Fields(s), "")
	if absentMarkers[s] {
		return model.Absent()
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}

	if !plainNumber.MatchString(s) {
		return model.Absent()
	}

	d, err := decimal.NewFromString(strings.TrimPrefix(s, "+"))
	if err != nil {
		return model.Absent()
	}
	if neg {
		d = d.Neg()
	}
	return model.Number(d)
}

// CoerceText trims a text cell; empty and dash-only cells are absent.
func CoerceText(raw string) model.Value {
	s := collapseSpace(raw)
	if absentMarkers[strings.ToLower(fold(s))] {
		return model.Absent()
	}
	return model.Text(s)
}
