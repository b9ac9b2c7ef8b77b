package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalDecisions     int
	RefineCount        int
	CoarsenCount       int
	NeutralCount       int
	MeanDetail         float64
	MaxDetail          float64
	Moves              int
	UniqueTargets      int
	TargetDistribution map[int]int // rank → count of nodes moved in
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		TargetDistribution: make(map[int]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalDecisions = len(st.Remeshes)
	totalDetail := 0.0
	for _, r := range st.Remeshes {
		switch r.Decision {
		case "refine":
			summary.RefineCount++
		case "coarsen":
			summary.CoarsenCount++
		default:
			summary.NeutralCount++
		}
		totalDetail += r.Detail
		if r.Detail > summary.MaxDetail {
			summary.MaxDetail = r.Detail
		}
	}
	if len(st.Remeshes) > 0 {
		summary.MeanDetail = totalDetail / float64(len(st.Remeshes))
	}

	summary.Moves = len(st.Balances)
	for _, b := range st.Balances {
		summary.TargetDistribution[b.To]++
	}
	summary.UniqueTargets = len(summary.TargetDistribution)

	return summary
}
