package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/twstock-cli/internal/model"
	"github.com/sells-group/twstock-cli/internal/navigator"
	"github.com/sells-group/twstock-cli/internal/resilience"
)

func stageByReport(o model.Outcome, r model.ReportType) model.StageOutcome {
	for _, s := range o.Stages {
		if s.Report == r {
			return s
		}
	}
	return model.StageOutcome{}
}

func TestProcess_AllStagesPersisted(t *testing.T) {
	norm := &mockNormalizer{}
	w := &mockWriter{}
	for _, r := range model.ReportTypes {
		norm.On("Normalize", r).Return(someRecords(r), nil)
		w.On("Persist", model.Identifier("2330"), r, 2).Return(int64(1), nil)
	}
	w.On("RebuildCombined", model.Identifier("2330")).Return(int64(3), nil)

	sess := &fakeSession{}
	walker := &scriptedWalker{stages: map[model.Identifier][]navigator.StageResult{"2330": allReady("2330")}}
	p := New(sess, walker, norm, w, nil)

	out, err := p.Process(context.Background(), "2330")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, out.Status)
	assert.True(t, out.Combined)
	assert.Len(t, out.Stages, len(model.ReportTypes))
	assert.Equal(t, 1, sess.resets)
	for _, s := range out.Stages {
		assert.Equal(t, model.StageReady, s.Status)
		assert.Equal(t, 2, s.Records)
		assert.Equal(t, 1, s.Rows)
	}
	w.AssertExpectations(t)
}

func TestProcess_UnrecognizedLayoutFailsOnlyThatStage(t *testing.T) {
	norm := &mockNormalizer{}
	w := &mockWriter{}
	for _, r := range model.ReportTypes {
		if r == model.ReportRevenue {
			norm.On("Normalize", r).Return(nil,
				resilience.Mark(resilience.KindUnrecognizedLayout, errors.New("normalize: best table matched 1 of 6 fields")))
			continue
		}
		norm.On("Normalize", r).Return(someRecords(r), nil)
		w.On("Persist", model.Identifier("2330"), r, 2).Return(int64(1), nil)
	}

	walker := &scriptedWalker{stages: map[model.Identifier][]navigator.StageResult{"2330": allReady("2330")}}
	out, err := New(&fakeSession{}, walker, norm, w, nil).Process(context.Background(), "2330")
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Equal(t, model.ReportRevenue, out.FailedStage)
	assert.Equal(t, string(resilience.KindUnrecognizedLayout), out.ErrKind)
	assert.False(t, out.Combined)

	// Later stages still ran and persisted.
	assert.Equal(t, model.StageReady, stageByReport(out, model.ReportCashFlow).Status)
	w.AssertNotCalled(t, "RebuildCombined", mock.Anything)
	w.AssertNumberOfCalls(t, "Persist", 4)
}

func TestProcess_PersistenceFailureSkipsCombined(t *testing.T) {
	norm := &mockNormalizer{}
	w := &mockWriter{}
	for _, r := range model.ReportTypes {
		norm.On("Normalize", r).Return(someRecords(r), nil)
	}
	w.On("Persist", model.Identifier("2330"), model.ReportBalanceSheet, 2).
		Return(int64(0), resilience.Mark(resilience.KindPersistenceFailure, errors.New("numeric field overflow")))
	w.On("Persist", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)

	walker := &scriptedWalker{stages: map[model.Identifier][]navigator.StageResult{"2330": allReady("2330")}}
	out, err := New(&fakeSession{}, walker, norm, w, nil).Process(context.Background(), "2330")
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Equal(t, model.ReportBalanceSheet, out.FailedStage)
	assert.Equal(t, string(resilience.KindPersistenceFailure), out.ErrKind)
	assert.Equal(t, 1, stageByReport(out, model.ReportIncomeStatement).Rows)
	w.AssertNotCalled(t, "RebuildCombined", mock.Anything)
}

func TestProcess_AllEmptyIsAbsent(t *testing.T) {
	var stages []navigator.StageResult
	for _, r := range model.ReportTypes {
		stages = append(stages, empty(r))
	}
	w := &mockWriter{}
	walker := &scriptedWalker{stages: map[model.Identifier][]navigator.StageResult{"0001": stages}}

	out, err := New(&fakeSession{}, walker, &mockNormalizer{}, w, nil).Process(context.Background(), "0001")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAbsent, out.Status)
	assert.Empty(t, out.FailedStage)
	w.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything, mock.Anything)
	w.AssertNotCalled(t, "RebuildCombined", mock.Anything)
}

func TestProcess_NoDataPageNormalizesToEmpty(t *testing.T) {
	norm := &mockNormalizer{}
	norm.On("Normalize", model.ReportCompanyInfo).Return([]model.Record{}, nil)
	walker := &scriptedWalker{stages: map[model.Identifier][]navigator.StageResult{
		"0001": {ready("0001", model.ReportCompanyInfo, navigator.Stage{})},
	}}

	out, err := New(&fakeSession{}, walker, norm, &mockWriter{}, nil).Process(context.Background(), "0001")
	require.NoError(t, err)
	assert.Equal(t, model.StageEmpty, out.Stages[0].Status)
	assert.Equal(t, model.OutcomeAbsent, out.Status)
}

func TestProcess_NavigationFailure(t *testing.T) {
	norm := &mockNormalizer{}
	w := &mockWriter{}
	norm.On("Normalize", model.ReportCompanyInfo).Return(someRecords(model.ReportCompanyInfo), nil)
	w.On("Persist", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)

	timeout := resilience.Mark(resilience.KindNavigationTimeout, errors.New("page not ready after 20s"))
	walker := &scriptedWalker{stages: map[model.Identifier][]navigator.StageResult{
		"2330": {
			ready("2330", model.ReportCompanyInfo, navigator.Stage{}),
			{Report: model.ReportRevenue, Status: model.StageFailed, Err: timeout},
		},
	}}

	out, err := New(&fakeSession{}, walker, norm, w, nil).Process(context.Background(), "2330")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Equal(t, model.ReportRevenue, out.FailedStage)
	assert.Equal(t, string(resilience.KindNavigationTimeout), out.ErrKind)
	assert.Len(t, out.Stages, 2)
}

func TestProcess_SessionLossIsReturned(t *testing.T) {
	fatal := resilience.Mark(resilience.KindSessionUnavailable, errors.New("browser: launch failed after 3 attempts"))
	walker := &scriptedWalker{stages: map[model.Identifier][]navigator.StageResult{
		"2330": {{Report: model.ReportCompanyInfo, Status: model.StageFailed, Err: fatal}},
	}}

	out, err := New(&fakeSession{}, walker, &mockNormalizer{}, &mockWriter{}, nil).Process(context.Background(), "2330")
	require.Error(t, err)
	assert.True(t, resilience.IsFatal(err))
	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Equal(t, string(resilience.KindSessionUnavailable), out.ErrKind)
	assert.Equal(t, model.ReportCompanyInfo, out.FailedStage)
}

func TestProcess_FilingsCountedAndFailuresTolerated(t *testing.T) {
	norm := &mockNormalizer{}
	w := &mockWriter{}
	for _, r := range model.ReportTypes {
		norm.On("Normalize", r).Return(someRecords(r), nil)
	}
	w.On("Persist", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	w.On("RebuildCombined", mock.Anything).Return(int64(1), nil)

	fl := &mockFilings{}
	fl.On("Snapshot", model.ReportCompanyInfo).Return(model.Filing{Period: "snapshot"}, nil)
	fl.On("Retrieve", model.ReportBalanceSheet, "a.pdf").Return([]model.Filing{{Period: "2024Q2"}, {Period: "2024Q1", Skipped: true}}, nil)
	fl.On("Retrieve", model.ReportCashFlow, "a.pdf").
		Return([]model.Filing{{Period: "2024Q2"}}, resilience.Mark(resilience.KindDownloadFailed, errors.New("unexpected content type")))

	stages := []navigator.StageResult{
		ready("2330", model.ReportCompanyInfo, navigator.Stage{SnapshotPDF: true}),
		ready("2330", model.ReportRevenue, navigator.Stage{}),
		ready("2330", model.ReportBalanceSheet, navigator.Stage{PDFLinks: "a.pdf"}),
		ready("2330", model.ReportIncomeStatement, navigator.Stage{}),
		ready("2330", model.ReportCashFlow, navigator.Stage{PDFLinks: "a.pdf"}),
	}
	sess := &fakeSession{}
	walker := &scriptedWalker{stages: map[model.Identifier][]navigator.StageResult{"2330": stages}}

	out, err := New(sess, walker, norm, w, fl).Process(context.Background(), "2330")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, out.Status)
	assert.Equal(t, 1, sess.prints)

	assert.Equal(t, 1, stageByReport(out, model.ReportCompanyInfo).Filings)
	bs := stageByReport(out, model.ReportBalanceSheet)
	assert.Equal(t, 1, bs.Filings)
	assert.Equal(t, 1, bs.Skipped)

	cf := stageByReport(out, model.ReportCashFlow)
	assert.Equal(t, model.StageReady, cf.Status)
	assert.Equal(t, 1, cf.Filings)
	assert.Contains(t, cf.FilingErr, "unexpected content type")
	fl.AssertExpectations(t)
}

func TestProcess_CombinedRebuildFailure(t *testing.T) {
	norm := &mockNormalizer{}
	w := &mockWriter{}
	for _, r := range model.ReportTypes {
		norm.On("Normalize", r).Return(someRecords(r), nil)
	}
	w.On("Persist", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	w.On("RebuildCombined", mock.Anything).
		Return(int64(0), resilience.Mark(resilience.KindPersistenceFailure, errors.New("deadlock detected")))

	walker := &scriptedWalker{stages: map[model.Identifier][]navigator.StageResult{"2330": allReady("2330")}}
	out, err := New(&fakeSession{}, walker, norm, w, nil).Process(context.Background(), "2330")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.False(t, out.Combined)
	assert.Equal(t, string(resilience.KindPersistenceFailure), out.ErrKind)
}
