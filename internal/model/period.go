package model

import "fmt"

// rocOffset converts Republic of China calendar years to Gregorian years.
const rocOffset = 1911

// PeriodType describes what span a FiscalPeriod covers.
type PeriodType string

const (
	PeriodSnapshot   PeriodType = "snapshot"
	PeriodMonthly    PeriodType = "monthly"
	PeriodCumulative PeriodType = "cumulative"
	PeriodQuarterly  PeriodType = "quarterly"
	PeriodAnnual     PeriodType = "annual"
)

// FiscalPeriod identifies the reporting period of a record.
// Annual periods carry Quarter 0; monthly and cumulative periods carry Month.
type FiscalPeriod struct {
	Year    int
	Quarter int
	Month   int
	Type    PeriodType
}

// GregorianYear converts ROC calendar years (below 1911) to Gregorian years.
func GregorianYear(y int) int {
	if y > 0 && y < rocOffset {
		return y + rocOffset
	}
	return y
}

// Snapshot is the period of point-in-time data such as company profiles.
func Snapshot() FiscalPeriod { return FiscalPeriod{Type: PeriodSnapshot} }

// Quarter builds a quarterly period.
func Quarter(year, quarter int) FiscalPeriod {
	return FiscalPeriod{Year: GregorianYear(year), Quarter: quarter, Type: PeriodQuarterly}
}

// Annual builds an annual period.
func Annual(year int) FiscalPeriod {
	return FiscalPeriod{Year: GregorianYear(year), Type: PeriodAnnual}
}

// Month builds a monthly or cumulative period.
func Month(year, month int, t PeriodType) FiscalPeriod {
	return FiscalPeriod{Year: GregorianYear(year), Month: month, Quarter: (month + 2) / 3, Type: t}
}

// WithType returns a copy of p with a different period type.
func (p FiscalPeriod) WithType(t PeriodType) FiscalPeriod {
	p.Type = t
	if t == PeriodAnnual {
		p.Quarter = 0
		p.Month = 0
	}
	return p
}

// IsZero reports whether no period was determined.
func (p FiscalPeriod) IsZero() bool {
	return p.Type == "" && p.Year == 0
}

// Key renders a stable, file-name safe key such as "2024Q2", "2024M09",
// "2024M09C", "2024" or "snapshot".
func (p FiscalPeriod) Key() string {
	switch p.Type {
	case PeriodSnapshot:
		return "snapshot"
	case PeriodMonthly:
		return fmt.Sprintf("%04dM%02d", p.Year, p.Month)
	case PeriodCumulative:
		return fmt.Sprintf("%04dM%02dC", p.Year, p.Month)
	case PeriodAnnual:
		return fmt.Sprintf("%04d", p.Year)
	case PeriodQuarterly:
		return fmt.Sprintf("%04dQ%d", p.Year, p.Quarter)
	default:
		if p.Year == 0 {
			return "unknown"
		}
		return fmt.Sprintf("%04dQ%d", p.Year, p.Quarter)
	}
}
