package trace

import "testing"

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})

	// WHEN summarized
	summary := Summarize(st)

	// THEN all counts are zero
	if summary.TotalDecisions != 0 {
		t.Errorf("expected 0 total decisions, got %d", summary.TotalDecisions)
	}
	if summary.RefineCount != 0 || summary.CoarsenCount != 0 || summary.NeutralCount != 0 {
		t.Error("expected 0 refine, coarsen and neutral")
	}
	if summary.Moves != 0 || summary.UniqueTargets != 0 {
		t.Errorf("expected no moves, got %d to %d targets", summary.Moves, summary.UniqueTargets)
	}
	if summary.MeanDetail != 0 || summary.MaxDetail != 0 {
		t.Error("expected 0 detail values")
	}
}

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	if summary.TotalDecisions != 0 || summary.TargetDistribution == nil {
		t.Errorf("unexpected summary for nil trace: %+v", summary)
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with mixed remesh and balance records
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})
	st.RecordRemesh(RemeshRecord{Node: 1, Decision: "refine", Detail: 0.5})
	st.RecordRemesh(RemeshRecord{Node: 2, Decision: "coarsen", Detail: 0.1})
	st.RecordRemesh(RemeshRecord{Node: 3, Decision: "neutral", Detail: 0.3})
	st.RecordRemesh(RemeshRecord{Node: 4, Decision: "coarsen", Detail: 0.0})
	st.RecordBalance(BalanceRecord{Node: 1, From: 0, To: 1})
	st.RecordBalance(BalanceRecord{Node: 2, From: 0, To: 1})
	st.RecordBalance(BalanceRecord{Node: 3, From: 1, To: 2})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts match
	if summary.TotalDecisions != 4 {
		t.Errorf("expected 4 total decisions, got %d", summary.TotalDecisions)
	}
	if summary.RefineCount != 1 || summary.CoarsenCount != 2 || summary.NeutralCount != 1 {
		t.Errorf("unexpected decision counts %+v", summary)
	}
	if summary.Moves != 3 || summary.UniqueTargets != 2 {
		t.Errorf("expected 3 moves to 2 targets, got %d to %d", summary.Moves, summary.UniqueTargets)
	}
	if summary.TargetDistribution[1] != 2 {
		t.Errorf("expected rank 1 count 2, got %d", summary.TargetDistribution[1])
	}
}

func TestSummarize_DetailStatistics_CorrectMeanAndMax(t *testing.T) {
	// GIVEN remesh records with known details
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})
	st.RecordRemesh(RemeshRecord{Node: 1, Detail: 0.1})
	st.RecordRemesh(RemeshRecord{Node: 2, Detail: 0.5})
	st.RecordRemesh(RemeshRecord{Node: 3, Detail: 0.2})

	// WHEN summarized
	summary := Summarize(st)

	// THEN mean detail = (0.1 + 0.5 + 0.2) / 3 ≈ 0.2667
	expectedMean := (0.1 + 0.5 + 0.2) / 3.0
	if summary.MeanDetail < expectedMean-0.001 || summary.MeanDetail > expectedMean+0.001 {
		t.Errorf("expected mean detail ~%.4f, got %.4f", expectedMean, summary.MeanDetail)
	}

	// THEN max detail = 0.5
	if summary.MaxDetail != 0.5 {
		t.Errorf("expected max detail 0.5, got %.4f", summary.MaxDetail)
	}
}
