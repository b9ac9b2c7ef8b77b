package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures all remesh and balance decisions.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects decision records of one rank.
type SimulationTrace struct {
	Config   TraceConfig
	Remeshes []RemeshRecord
	Balances []BalanceRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:   config,
		Remeshes: make([]RemeshRecord, 0),
		Balances: make([]BalanceRecord, 0),
	}
}

// Enabled reports whether records should be collected. Safe on nil.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelDecisions
}

// RecordRemesh appends a remesh decision record.
func (st *SimulationTrace) RecordRemesh(record RemeshRecord) {
	st.Remeshes = append(st.Remeshes, record)
}

// RecordBalance appends a balance move record.
func (st *SimulationTrace) RecordBalance(record BalanceRecord) {
	st.Balances = append(st.Balances, record)
}
