// Package analytics scores day/hour send windows from delivery history and
// derives per-destination risk profiles. Everything is recomputed from the
// delivery log on query; nothing is persisted.
package analytics

import (
	"context"
	"fmt"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/relaybird/relaybird/internal/delivery"
	"github.com/relaybird/relaybird/internal/schedules"
)

// Config contains timing model parameters. The boost, penalty and risk
// weights are tuning inputs, not constants.
type Config struct {
	LookbackDays    int
	HalfLifeDays    float64
	PriorAlpha      float64
	PriorBeta       float64
	ResponseBoost   float64
	FatiguePenalty  float64
	MinObservations float64
	TopSlots        int
	RiskWeights     RiskWeights
}

// RiskWeights are the components of the risk score.
type RiskWeights struct {
	Failure    float64
	Unobserved float64
	Silence    float64
	Inactivity float64
}

// LogSource reads the delivery history window the model aggregates.
type LogSource interface {
	ListSince(ctx context.Context, since time.Time) ([]delivery.Log, error)
}

// Slot is the scored aggregate for one (weekday, hour) send window.
type Slot struct {
	Weekday       int     `json:"weekday"`
	Hour          int     `json:"hour"`
	SentCount     int     `json:"sent_count"`
	ObservedCount int     `json:"observed_count"`
	ResponseCount int     `json:"response_count"`
	Alpha         float64 `json:"alpha"`
	Beta          float64 `json:"beta"`
	Mean          float64 `json:"mean"`
	Objective     float64 `json:"objective"`
	Confidence    float64 `json:"confidence"`
}

// TimelinePoint is one day of delivery outcomes inside the lookback window.
type TimelinePoint struct {
	Date      string `json:"date"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Responses int    `json:"responses"`
}

// Report is the full analytics query result.
type Report struct {
	GeneratedAt     time.Time       `json:"generated_at"`
	LookbackDays    int             `json:"lookback_days"`
	Slots           []Slot          `json:"slots"`
	Recommendations []Slot          `json:"recommendations"`
	BatchTimes      []string        `json:"batch_times"`
	CronExpr        string          `json:"cron_expr"`
	Timeline        []TimelinePoint `json:"timeline"`
	Risks           []RiskProfile   `json:"risks"`
}

// Query narrows a report computation. TopSlots overrides the configured
// recommendation count when positive.
type Query struct {
	LookbackDays  int
	DestinationID string
	ContentType   string
	TopSlots      int
}

// Engine computes timing reports and recommendations.
type Engine struct {
	config Config
	source LogSource
}

// NewEngine creates an analytics engine.
func NewEngine(config Config, source LogSource) *Engine {
	return &Engine{config: config, source: source}
}

// slotAccum carries the weighted sums for one slot during aggregation.
type slotAccum struct {
	sent, observed, responses int
	wSuccess, wFailure        float64
	wResponses, wSends        float64
}

// Report aggregates the lookback window into scored slots, recommendations
// and risk profiles. Insufficient data yields empty recommendations, never
// an error.
func (e *Engine) Report(ctx context.Context, q Query) (*Report, error) {
	now := time.Now()
	lookback := q.LookbackDays
	if lookback <= 0 {
		lookback = e.config.LookbackDays
	}
	since := now.AddDate(0, 0, -lookback)

	logs, err := e.source.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery history: %w", err)
	}

	if q.DestinationID != "" || q.ContentType != "" {
		filtered := logs[:0]
		for i := range logs {
			if q.DestinationID != "" && logs[i].DestinationID != q.DestinationID {
				continue
			}
			if q.ContentType != "" && contentType(&logs[i]) != q.ContentType {
				continue
			}
			filtered = append(filtered, logs[i])
		}
		logs = filtered
	}

	slots := e.aggregate(logs, now)
	recs := e.recommend(slots, q.TopSlots)
	batchTimes, cronExpr := renderTimes(recs)

	recordReport()

	return &Report{
		GeneratedAt:     now,
		LookbackDays:    lookback,
		Slots:           slots,
		Recommendations: recs,
		BatchTimes:      batchTimes,
		CronExpr:        cronExpr,
		Timeline:        timeline(logs),
		Risks:           e.riskProfiles(logs, now),
	}, nil
}

// contentType labels a record by its rendered payload: "text" when no media
// is attached, otherwise the kind of the first media reference.
func contentType(l *delivery.Log) string {
	if len(l.MediaRefs) == 0 {
		return "text"
	}
	ref := l.MediaRefs[0]
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	switch strings.ToLower(strings.TrimPrefix(path.Ext(ref), ".")) {
	case "jpg", "jpeg", "png", "gif", "webp":
		return "photo"
	case "mp4", "mov", "webm":
		return "video"
	case "mp3", "ogg", "wav", "m4a":
		return "audio"
	default:
		return "document"
	}
}

// timeline folds the (already filtered) log window into per-day outcome
// counts, oldest day first. Days are bucketed in UTC.
func timeline(logs []delivery.Log) []TimelinePoint {
	byDay := make(map[string]*TimelinePoint)
	for i := range logs {
		l := &logs[i]
		at := l.CreatedAt
		if l.SentAt != nil {
			at = *l.SentAt
		}
		day := at.UTC().Format("2006-01-02")

		pt := byDay[day]
		if pt == nil {
			pt = &TimelinePoint{Date: day}
			byDay[day] = pt
		}
		switch l.Status {
		case delivery.StatusSent, delivery.StatusDelivered, delivery.StatusRead:
			pt.Sent++
			if respondedWithin24h(l) {
				pt.Responses++
			}
		case delivery.StatusFailed:
			pt.Failed++
		case delivery.StatusSkipped:
			pt.Skipped++
		}
	}

	points := make([]TimelinePoint, 0, len(byDay))
	for _, pt := range byDay {
		points = append(points, *pt)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

// RecommendTimes implements schedules.Recommender for the explicit apply
// endpoint. Destinations outside the set do not influence the result.
func (e *Engine) RecommendTimes(ctx context.Context, destinationIDs []string) (*schedules.Recommendation, error) {
	now := time.Now()
	since := now.AddDate(0, 0, -e.config.LookbackDays)

	logs, err := e.source.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery history: %w", err)
	}

	if len(destinationIDs) > 0 {
		want := make(map[string]struct{}, len(destinationIDs))
		for _, id := range destinationIDs {
			want[id] = struct{}{}
		}
		filtered := logs[:0]
		for _, l := range logs {
			if _, ok := want[l.DestinationID]; ok {
				filtered = append(filtered, l)
			}
		}
		logs = filtered
	}

	recs := e.recommend(e.aggregate(logs, now), 0)
	batchTimes, cronExpr := renderTimes(recs)
	return &schedules.Recommendation{BatchTimes: batchTimes, CronExpr: cronExpr}, nil
}

// aggregate folds the log window into 7x24 scored slots.
func (e *Engine) aggregate(logs []delivery.Log, now time.Time) []Slot {
	accums := make(map[[2]int]*slotAccum)
	var totalSendWeight float64

	for i := range logs {
		l := &logs[i]

		at := l.CreatedAt
		if l.SentAt != nil {
			at = *l.SentAt
		}
		key := [2]int{int(at.Weekday()), at.Hour()}

		acc := accums[key]
		if acc == nil {
			acc = &slotAccum{}
			accums[key] = acc
		}

		w := recencyWeight(now.Sub(at), e.config.HalfLifeDays)

		switch l.Status {
		case delivery.StatusSent, delivery.StatusDelivered, delivery.StatusRead:
			acc.sent++
			acc.wSuccess += w
			acc.wSends += w
			totalSendWeight += w
			if l.Status != delivery.StatusSent {
				acc.observed++
			}
			if respondedWithin24h(l) {
				acc.responses++
				acc.wResponses += w
			}
		case delivery.StatusFailed:
			acc.wFailure += w
		}
		// skipped rows carry no outcome signal.
	}

	slots := make([]Slot, 0, len(accums))
	for key, acc := range accums {
		slot := Slot{
			Weekday:       key[0],
			Hour:          key[1],
			SentCount:     acc.sent,
			ObservedCount: acc.observed,
			ResponseCount: acc.responses,
		}

		slot.Alpha = e.config.PriorAlpha + acc.wSuccess
		slot.Beta = e.config.PriorBeta + acc.wFailure
		slot.Mean = slot.Alpha / (slot.Alpha + slot.Beta)

		boost := 0.0
		if acc.wSends > 0 {
			boost = e.config.ResponseBoost * (acc.wResponses / acc.wSends)
		}
		penalty := 0.0
		if totalSendWeight > 0 {
			density := neighborhoodWeight(accums, key) / totalSendWeight
			penalty = e.config.FatiguePenalty * density
		}
		slot.Objective = slot.Mean + boost - penalty

		slot.Confidence = confidence(slot.Alpha, slot.Beta, acc.wSuccess+acc.wFailure, e.config.MinObservations)
		slots = append(slots, slot)
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Weekday != slots[j].Weekday {
			return slots[i].Weekday < slots[j].Weekday
		}
		return slots[i].Hour < slots[j].Hour
	})
	return slots
}

// neighborhoodWeight sums send weight in the slot and the adjacent hours of
// the same weekday, so saturation near a window also counts against it.
func neighborhoodWeight(accums map[[2]int]*slotAccum, key [2]int) float64 {
	var sum float64
	for dh := -1; dh <= 1; dh++ {
		h := (key[1] + dh + 24) % 24
		if acc, ok := accums[[2]int{key[0], h}]; ok {
			sum += acc.wSends
		}
	}
	return sum
}

// recommend selects the top-K slots by objective among those with enough
// weighted evidence. A positive k overrides the configured count. Ties go to
// higher confidence, then earlier hour, then earlier weekday.
func (e *Engine) recommend(slots []Slot, k int) []Slot {
	if k <= 0 {
		k = e.config.TopSlots
	}
	if k <= 0 {
		k = 3
	}

	eligible := make([]Slot, 0, len(slots))
	for _, s := range slots {
		ess := s.Alpha + s.Beta - e.config.PriorAlpha - e.config.PriorBeta
		if ess >= e.config.MinObservations {
			eligible = append(eligible, s)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Objective != b.Objective {
			return a.Objective > b.Objective
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Hour != b.Hour {
			return a.Hour < b.Hour
		}
		return a.Weekday < b.Weekday
	})

	if len(eligible) > k {
		eligible = eligible[:k]
	}
	return eligible
}

// renderTimes translates recommended slots into batch times and an
// equivalent cron expression.
func renderTimes(recs []Slot) ([]string, string) {
	if len(recs) == 0 {
		return nil, ""
	}

	hourSet := make(map[int]struct{})
	daySet := make(map[int]struct{})
	batchSet := make(map[string]struct{})
	for _, s := range recs {
		hourSet[s.Hour] = struct{}{}
		daySet[s.Weekday] = struct{}{}
		batchSet[fmt.Sprintf("%02d:00", s.Hour)] = struct{}{}
	}

	batchTimes := make([]string, 0, len(batchSet))
	for bt := range batchSet {
		batchTimes = append(batchTimes, bt)
	}
	sort.Strings(batchTimes)

	hours := sortedKeys(hourSet)
	days := sortedKeys(daySet)

	cronDays := "*"
	if len(days) < 7 {
		cronDays = joinInts(days)
	}
	cronExpr := fmt.Sprintf("0 %s * * %s", joinInts(hours), cronDays)
	return batchTimes, cronExpr
}

func sortedKeys(m map[int]struct{}) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ",")
}

// recencyWeight halves an observation's weight every halfLifeDays.
func recencyWeight(age time.Duration, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 1
	}
	ageDays := age.Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(0.5, ageDays/halfLifeDays)
}

// confidence combines weighted effective sample size with posterior variance
// into [0,1]. minObservations sets the half-saturation point of the sample
// term.
func confidence(alpha, beta, ess, minObservations float64) float64 {
	if minObservations <= 0 {
		minObservations = 1
	}
	sampleTerm := ess / (ess + minObservations)

	sum := alpha + beta
	variance := alpha * beta / (sum * sum * (sum + 1))
	// Beta variance is at most 0.25; rescale so low variance pushes
	// confidence toward the sample term.
	varianceTerm := 1 - 4*variance

	c := sampleTerm * varianceTerm
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func respondedWithin24h(l *delivery.Log) bool {
	if l.RespondedAt == nil || l.SentAt == nil {
		return false
	}
	d := l.RespondedAt.Sub(*l.SentAt)
	return d >= 0 && d <= 24*time.Hour
}
