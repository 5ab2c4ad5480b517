package moderation

const DefaultWarnThreshold = 3

type EscalationDecision int

const (
	EscalationNone EscalationDecision = iota
	EscalationNotify
)

// EscalationPolicy decides whether a warning total crossing should raise an
// escalation. It is edge-triggered: it fires exactly when the total reaches
// the threshold and stays silent for every warn past it, so a member sitting
// above the threshold does not generate an alert storm.
type EscalationPolicy struct {
	threshold int64
}

func NewEscalationPolicy(threshold int64) EscalationPolicy {
	if threshold <= 0 {
		threshold = DefaultWarnThreshold
	}
	return EscalationPolicy{threshold: threshold}
}

func (p EscalationPolicy) Evaluate(previousTotal, newTotal int64) EscalationDecision {
	if previousTotal < p.threshold && newTotal >= p.threshold {
		return EscalationNotify
	}
	return EscalationNone
}

func (p EscalationPolicy) Threshold() int64 {
	return p.threshold
}
