package analytics

import (
	"sort"
	"time"

	"github.com/relaybird/relaybird/internal/delivery"
)

// RiskProfile surfaces failure and engagement trends for one destination. It
// never alters dispatch behavior.
type RiskProfile struct {
	DestinationID  string  `json:"destination_id"`
	FailureRate    float64 `json:"failure_rate"`
	ObservedRate   float64 `json:"observed_rate"`
	AvgResponses24 float64 `json:"avg_responses_24h"`
	InactivityDays float64 `json:"inactivity_days"`
	RiskScore      float64 `json:"risk_score"`
}

type riskAccum struct {
	total, failed, observed, responses int
	lastActivity                       time.Time
}

// riskProfiles folds the log window into per-destination risk scores, worst
// first.
func (e *Engine) riskProfiles(logs []delivery.Log, now time.Time) []RiskProfile {
	accums := make(map[string]*riskAccum)

	for i := range logs {
		l := &logs[i]

		acc := accums[l.DestinationID]
		if acc == nil {
			acc = &riskAccum{}
			accums[l.DestinationID] = acc
		}

		switch l.Status {
		case delivery.StatusSent, delivery.StatusDelivered, delivery.StatusRead:
			acc.total++
			if l.Status != delivery.StatusSent {
				acc.observed++
			}
			if at := l.SentAt; at != nil && at.After(acc.lastActivity) {
				acc.lastActivity = *at
			}
			if respondedWithin24h(l) {
				acc.responses++
				if l.RespondedAt.After(acc.lastActivity) {
					acc.lastActivity = *l.RespondedAt
				}
			}
		case delivery.StatusFailed:
			acc.total++
			acc.failed++
		}
	}

	w := e.config.RiskWeights
	weightSum := w.Failure + w.Unobserved + w.Silence + w.Inactivity
	if weightSum <= 0 {
		weightSum = 1
	}

	profiles := make([]RiskProfile, 0, len(accums))
	for dest, acc := range accums {
		if acc.total == 0 {
			continue
		}

		p := RiskProfile{
			DestinationID:  dest,
			FailureRate:    float64(acc.failed) / float64(acc.total),
			ObservedRate:   float64(acc.observed) / float64(acc.total),
			AvgResponses24: float64(acc.responses) / float64(acc.total),
		}
		if !acc.lastActivity.IsZero() {
			p.InactivityDays = now.Sub(acc.lastActivity).Hours() / 24
		} else {
			p.InactivityDays = float64(e.config.LookbackDays)
		}

		// Each component is normalized to [0,1] before weighting.
		inactivity := p.InactivityDays / 30
		if inactivity > 1 {
			inactivity = 1
		}
		silence := 1 - p.AvgResponses24
		if silence < 0 {
			silence = 0
		}

		p.RiskScore = (w.Failure*p.FailureRate +
			w.Unobserved*(1-p.ObservedRate) +
			w.Silence*silence +
			w.Inactivity*inactivity) / weightSum

		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].RiskScore != profiles[j].RiskScore {
			return profiles[i].RiskScore > profiles[j].RiskScore
		}
		return profiles[i].DestinationID < profiles[j].DestinationID
	})
	return profiles
}
