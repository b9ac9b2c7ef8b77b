package trace

import (
	"testing"
)

func TestSimulationTrace_RecordRemesh_AppendsRecord(t *testing.T) {
	// GIVEN a trace configured for decisions
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})

	// WHEN a remesh record is recorded
	st.RecordRemesh(RemeshRecord{
		Step:      3,
		Node:      0x21,
		Level:     1,
		Detail:    0.4,
		Threshold: 0.01,
		Decision:  "refine",
	})

	// THEN the trace contains one remesh record with correct data
	if len(st.Remeshes) != 1 {
		t.Fatalf("expected 1 remesh record, got %d", len(st.Remeshes))
	}
	if st.Remeshes[0].Node != 0x21 {
		t.Errorf("expected node 0x21, got %#x", st.Remeshes[0].Node)
	}
	if st.Remeshes[0].Decision != "refine" {
		t.Errorf("expected refine, got %s", st.Remeshes[0].Decision)
	}
}

func TestSimulationTrace_RecordBalance_AppendsRecord(t *testing.T) {
	// GIVEN a trace configured for decisions
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})

	// WHEN a balance record is recorded
	st.RecordBalance(BalanceRecord{
		Step:       8,
		Node:       0x30,
		From:       0,
		To:         1,
		Categories: []string{"right_hand_side", "jump_buffers"},
	})

	// THEN the trace contains one balance record with correct data
	if len(st.Balances) != 1 {
		t.Fatalf("expected 1 balance record, got %d", len(st.Balances))
	}
	if st.Balances[0].To != 1 {
		t.Errorf("expected target rank 1, got %d", st.Balances[0].To)
	}
	if len(st.Balances[0].Categories) != 2 {
		t.Errorf("expected 2 categories, got %v", st.Balances[0].Categories)
	}
}

func TestSimulationTrace_MultipleRecords_PreservesOrder(t *testing.T) {
	// GIVEN a trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})

	// WHEN multiple records are added
	st.RecordRemesh(RemeshRecord{Node: 1, Decision: "coarsen"})
	st.RecordRemesh(RemeshRecord{Node: 2, Decision: "neutral"})
	st.RecordBalance(BalanceRecord{Node: 1, From: 0, To: 1})

	// THEN order is preserved
	if len(st.Remeshes) != 2 {
		t.Fatalf("expected 2 remesh records, got %d", len(st.Remeshes))
	}
	if st.Remeshes[0].Node != 1 || st.Remeshes[1].Node != 2 {
		t.Error("remesh order not preserved")
	}
	if len(st.Balances) != 1 || st.Balances[0].Node != 1 {
		t.Error("balance record mismatch")
	}
}

func TestSimulationTrace_Enabled(t *testing.T) {
	var nilTrace *SimulationTrace
	if nilTrace.Enabled() {
		t.Error("nil trace must be disabled")
	}
	if NewSimulationTrace(TraceConfig{Level: TraceLevelNone}).Enabled() {
		t.Error("level none must be disabled")
	}
	if !NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions}).Enabled() {
		t.Error("level decisions must be enabled")
	}
}

func TestIsValidTraceLevel_ValidLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"none", true},
		{"decisions", true},
		{"", true}, // empty defaults to none
		{"detailed", false},
		{"foobar", false},
		{"NONE", false}, // case-sensitive
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := IsValidTraceLevel(tt.level); got != tt.valid {
				t.Errorf("IsValidTraceLevel(%q) = %v, want %v", tt.level, got, tt.valid)
			}
		})
	}
}
