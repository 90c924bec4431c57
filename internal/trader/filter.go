package trader

// ConfidenceFilter is the default entry filter: it rejects signals below a
// confidence threshold and shrinks the stake on marginal signals or during a
// loss streak. Richer filters plug in through the EntryFilter interface.
type ConfidenceFilter struct {
	MinConfidence    float64
	StrongConfidence float64
}

// DefaultConfidenceFilter uses the thresholds the bot ships with.
func DefaultConfidenceFilter() ConfidenceFilter {
	return ConfidenceFilter{MinConfidence: 0.55, StrongConfidence: 0.75}
}

func (f ConfidenceFilter) Check(sig Signal, mc MarketContext) FilterDecision {
	min := f.MinConfidence
	if min <= 0 {
		min = 0.55
	}
	strong := f.StrongConfidence
	if strong <= min {
		strong = min + 0.2
	}

	if sig.Confidence < min {
		return FilterDecision{Reasons: []string{"confidence below threshold"}}
	}

	dec := FilterDecision{Accept: true, StakeMultiplier: 1}
	if sig.Confidence < strong {
		dec.StakeMultiplier = 0.5
		dec.Reasons = append(dec.Reasons, "marginal confidence")
	}
	if mc.ConsecutiveLosses >= 2 {
		dec.StakeMultiplier *= 0.5
		dec.Reasons = append(dec.Reasons, "loss streak")
	}
	return dec
}
