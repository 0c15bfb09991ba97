package navigator

import (
	"github.com/sells-group/twstock-cli/internal/model"
)

// State is a navigator state: start, one state per report stage, done, or
// failed.
type State string

const (
	StateStart  State = "start"
	StateDone   State = "done"
	StateFailed State = "failed"
)

// Event drives a transition.
type Event string

const (
	EventBegin  Event = "begin"
	EventReady  Event = "ready"
	EventEmpty  Event = "empty"
	EventFailed Event = "failed"
)

func stageState(r model.ReportType) State { return State(r) }

type transition struct {
	from State
	on   Event
	to   State
}

// transitions walks the stages in fixed order. A stage that is ready or
// empty moves on; a failed stage ends the identifier's pass.
var transitions = []transition{
	{StateStart, EventBegin, stageState(model.ReportCompanyInfo)},

	{stageState(model.ReportCompanyInfo), EventReady, stageState(model.ReportRevenue)},
	{stageState(model.ReportCompanyInfo), EventEmpty, stageState(model.ReportRevenue)},
	{stageState(model.ReportCompanyInfo), EventFailed, StateFailed},

	{stageState(model.ReportRevenue), EventReady, stageState(model.ReportBalanceSheet)},
	{stageState(model.ReportRevenue), EventEmpty, stageState(model.ReportBalanceSheet)},
	{stageState(model.ReportRevenue), EventFailed, StateFailed},

	{stageState(model.ReportBalanceSheet), EventReady, stageState(model.ReportIncomeStatement)},
	{stageState(model.ReportBalanceSheet), EventEmpty, stageState(model.ReportIncomeStatement)},
	{stageState(model.ReportBalanceSheet), EventFailed, StateFailed},

	{stageState(model.ReportIncomeStatement), EventReady, stageState(model.ReportCashFlow)},
	{stageState(model.ReportIncomeStatement), EventEmpty, stageState(model.ReportCashFlow)},
	{stageState(model.ReportIncomeStatement), EventFailed, StateFailed},

	{stageState(model.ReportCashFlow), EventReady, StateDone},
	{stageState(model.ReportCashFlow), EventEmpty, StateDone},
	{stageState(model.ReportCashFlow), EventFailed, StateFailed},
}

var transitionTable = buildTable(transitions)

func buildTable(ts []transition) map[State]map[Event]State {
	out := make(map[State]map[Event]State)
	for _, t := range ts {
		if out[t.from] == nil {
			out[t.from] = make(map[Event]State)
		}
		out[t.from][t.on] = t.to
	}
	return out
}

// next returns the state after firing ev in s. ok is false for transitions
// the table does not define.
func next(s State, ev Event) (State, bool) {
	to, ok := transitionTable[s][ev]
	return to, ok
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Report returns the report type of a stage state.
func (s State) Report() (model.ReportType, bool) {
	for _, r := range model.ReportTypes {
		if State(r) == s {
			return r, true
		}
	}
	return "", false
}
