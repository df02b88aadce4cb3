package analytics

import (
	"fmt"
	"time"

	"form-coach/internal/envelope"
	"form-coach/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultCooldown = 3 * time.Second

	maxRecentIssues = 100
)

// IssueHandler receives every issue the detector accepts, synchronously.
type IssueHandler func(issue models.FormIssue)

// Report is the outcome of evaluating one frame.
type Report struct {
	Issues []models.FormIssue
	// Suppressed lists dedup keys that matched but were still cooling down.
	Suppressed []string
}

type subscription struct {
	id int
	fn IssueHandler
}

// Detector checks smoothed angles against an exercise envelope and emits
// form issues, at most one per dedup key per cooldown window.
// It is not safe for concurrent use.
type Detector struct {
	envelope  *envelope.Envelope
	cooldown  time.Duration
	lastEmit  map[string]time.Time
	handlers  []subscription
	nextID    int
	anomalies []models.FormIssue
	stats     models.DetectorStats
}

func NewDetector(env *envelope.Envelope, cooldown time.Duration) *Detector {
	if cooldown < 0 {
		cooldown = DefaultCooldown
	}
	return &Detector{
		envelope:  env,
		cooldown:  cooldown,
		lastEmit:  make(map[string]time.Time),
		anomalies: make([]models.FormIssue, 0, maxRecentIssues),
		stats:     newStats(cooldown),
	}
}

func newStats(cooldown time.Duration) models.DetectorStats {
	return models.DetectorStats{
		BySeverity: make(map[models.Severity]int64),
		Cooldown:   cooldown,
	}
}

// SeverityForDeviation buckets a range deviation scalar.
func SeverityForDeviation(deviation float64) models.Severity {
	switch {
	case deviation > 2.0:
		return models.SeverityCritical
	case deviation > 1.0:
		return models.SeverityWarning
	default:
		return models.SeverityMinor
	}
}

// DeviationKey is the dedup key of an out-of-range joint.
func DeviationKey(key models.AngleKey) string {
	return fmt.Sprintf("%s-%s", key, models.IssueAngleDeviation)
}

// Subscribe registers h for every accepted issue. The returned func removes it.
func (d *Detector) Subscribe(h IssueHandler) (unsubscribe func()) {
	id := d.nextID
	d.nextID++
	d.handlers = append(d.handlers, subscription{id: id, fn: h})
	return func() {
		for i, sub := range d.handlers {
			if sub.id == id {
				d.handlers = append(d.handlers[:i:i], d.handlers[i+1:]...)
				return
			}
		}
	}
}

// Evaluate checks one frame's angles at time now.
func (d *Detector) Evaluate(angles models.Angles, now time.Time) Report {
	d.stats.TotalEvaluations++

	var report Report
	if d.envelope == nil {
		return report
	}

	for _, candidate := range d.candidates(angles, now) {
		if last, ok := d.lastEmit[candidate.Key]; ok && now.Sub(last) < d.cooldown {
			report.Suppressed = append(report.Suppressed, candidate.Key)
			d.stats.TotalSuppressed++
			continue
		}

		candidate.ID = uuid.NewString()
		d.lastEmit[candidate.Key] = now
		d.record(candidate)
		report.Issues = append(report.Issues, candidate)

		for _, sub := range d.handlers {
			sub.fn(candidate)
		}
	}

	return report
}

// candidates returns range deviations in catalog order, then rule violations
// in envelope order.
func (d *Detector) candidates(angles models.Angles, now time.Time) []models.FormIssue {
	var out []models.FormIssue
	exercise := d.envelope.Name

	for _, key := range models.AngleKeys {
		angle, ok := angles[key]
		if !ok {
			continue
		}
		r, ok := d.envelope.Ranges[key]
		if !ok || r.IsValid(angle) {
			continue
		}

		measured := angle
		expected := r.Acceptable()
		out = append(out, models.FormIssue{
			Type:     models.IssueAngleDeviation,
			Severity: SeverityForDeviation(r.DeviationSeverity(angle)),
			Key:      DeviationKey(key),
			Description: fmt.Sprintf("%s angle %.1f° is outside the acceptable range %.0f-%.0f°",
				key, angle, expected.Min, expected.Max),
			Exercise:  exercise,
			Joint:     key,
			Measured:  &measured,
			Expected:  &expected,
			Timestamp: now,
		})
	}

	for _, rule := range d.envelope.Rules {
		if !rule.IsViolated(angles) {
			continue
		}
		out = append(out, models.FormIssue{
			Type:        rule.Class.IssueType(),
			Severity:    rule.Class.Severity(),
			Key:         rule.Name,
			Description: rule.Description,
			Exercise:    exercise,
			Timestamp:   now,
		})
	}

	return out
}

func (d *Detector) record(issue models.FormIssue) {
	d.stats.TotalIssues++
	d.stats.BySeverity[issue.Severity]++
	d.stats.LastIssueTime = issue.Timestamp

	d.anomalies = append(d.anomalies, issue)
	if len(d.anomalies) > maxRecentIssues {
		d.anomalies = d.anomalies[1:]
	}
}

// Stats returns a copy of the running counters.
func (d *Detector) Stats() models.DetectorStats {
	s := d.stats
	s.BySeverity = make(map[models.Severity]int64, len(d.stats.BySeverity))
	for k, v := range d.stats.BySeverity {
		s.BySeverity[k] = v
	}
	return s
}

// RecentIssues returns up to limit of the latest accepted issues, oldest first.
func (d *Detector) RecentIssues(limit int) []models.FormIssue {
	if limit > len(d.anomalies) || limit <= 0 {
		limit = len(d.anomalies)
	}

	start := len(d.anomalies) - limit
	out := make([]models.FormIssue, limit)
	copy(out, d.anomalies[start:])
	return out
}

// Reset clears the cooldown table and issue history. Subscribers stay.
func (d *Detector) Reset() {
	d.lastEmit = make(map[string]time.Time)
	d.anomalies = d.anomalies[:0]
	d.stats = newStats(d.cooldown)
}
