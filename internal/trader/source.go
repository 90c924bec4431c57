package trader

import (
	"fmt"

	"main/internal/schema"
)

// MomentumSource is the reference signal source: it rides short streaks of
// same-direction moves, entering in the streak direction once it reaches
// MinStreak ticks. Production strategies plug in through SignalSource.
type MomentumSource struct {
	MinStreak int
}

func (s MomentumSource) Evaluate(latest schema.Tick, history []schema.Tick) (Signal, bool) {
	minStreak := s.MinStreak
	if minStreak <= 0 {
		minStreak = 3
	}
	if len(history) < minStreak+1 {
		return Signal{}, false
	}

	streak := 0
	up := false
	for i := len(history) - 1; i > 0; i-- {
		diff := history[i].Quote - history[i-1].Quote
		if diff == 0 {
			break
		}
		dirUp := diff > 0
		if streak == 0 {
			up = dirUp
		} else if dirUp != up {
			break
		}
		streak++
	}
	if streak < minStreak {
		return Signal{}, false
	}

	contractType := "PUT"
	if up {
		contractType = "CALL"
	}
	confidence := 0.5 + 0.1*float64(streak)
	if confidence > 0.9 {
		confidence = 0.9
	}
	return Signal{
		ContractType: contractType,
		Confidence:   confidence,
		Reason:       fmt.Sprintf("%d-tick streak", streak),
	}, true
}
