// Package readiness scores how close a learner is to exam day. The scorer is
// pure arithmetic over the profile, plan and latest snapshot; it degrades on
// missing data instead of erroring.
package readiness

import (
	"fmt"
	"math"
	"strings"
	"time"

	"prepline/internal/domain"
)

const (
	weightDomain   = 0.55
	weightHours    = 0.25
	weightPractice = 0.20
)

// Verdict bands, inclusive at the lower edge.
const (
	bandExamReady   = 75.0
	bandNearlyReady = 60.0
	bandNeedsWork   = 45.0
)

// Progress deltas against the schedule.
const (
	deltaAhead    = 0.15
	deltaOnTrack  = -0.15
	deltaBehind   = -0.35
	lowHoursFloor = 0.5
)

// Score computes the readiness assessment for one session. A zero-value
// snapshot (no check-in yet) is valid input: hours and ratings contribute
// nothing and the practice component falls back to its indicator default.
func Score(exam domain.Exam, p domain.LearnerProfile, plan domain.StudyPlan, snap domain.ProgressSnapshot, now time.Time) domain.ReadinessAssessment {
	byID := make(map[string]domain.DomainProfile, len(p.Domains))
	for _, dp := range p.Domains {
		byID[dp.DomainID] = dp
	}
	taskFor := make(map[string]domain.StudyTask, len(plan.Tasks))
	for _, t := range plan.Tasks {
		taskFor[t.DomainID] = t
	}

	actualFor := func(id string) float64 {
		dp := byID[id]
		actual := dp.Confidence
		if rating, ok := snap.SelfRatings[id]; ok {
			actual = 0.5*dp.Confidence + 0.5*float64(rating)/5
		}
		return clamp01(actual)
	}

	var weighted, totalWeight float64
	for _, d := range exam.Domains {
		weighted += d.Weight * actualFor(d.ID)
		totalWeight += d.Weight
	}
	domainComp := 0.0
	if totalWeight > 0 {
		domainComp = weighted / totalWeight
	}

	hoursComp := 0.0
	if plan.BudgetHours > 0 {
		hoursComp = clamp01(snap.HoursSpent / plan.BudgetHours)
	}

	practiceComp := practiceComponent(snap)

	pct := 100 * (weightDomain*domainComp + weightHours*hoursComp + weightPractice*practiceComp)
	pct = math.Round(pct*100) / 100
	verdict := verdictFor(pct)

	statuses := make([]domain.DomainStatus, 0, len(exam.Domains))
	for _, d := range exam.Domains {
		if byID[d.ID].Skip {
			continue
		}
		actual := actualFor(d.ID)
		expected := expectedProgress(taskFor[d.ID], snap.Week)
		statuses = append(statuses, domain.DomainStatus{
			DomainID: d.ID,
			Name:     d.Name,
			Actual:   actual,
			Expected: expected,
			Status:   statusFor(actual - expected),
		})
	}

	return domain.ReadinessAssessment{
		SessionID:         p.SessionID,
		ReadinessPct:      pct,
		Verdict:           verdict,
		DomainComponent:   domainComp,
		HoursComponent:    hoursComp,
		PracticeComponent: practiceComp,
		DomainStatuses:    statuses,
		Nudges:            nudges(verdict, pct, hoursComp, statuses, snap),
		GoNoGoReason:      fmt.Sprintf("%s: %.0f%% readiness against the %.0f%% pass bar.", verdict, pct, domain.PassScorePct),
		CreatedAt:         now.UTC().Format(time.RFC3339),
	}
}

func practiceComponent(snap domain.ProgressSnapshot) float64 {
	if snap.PracticeScore != nil {
		return clamp01(*snap.PracticeScore / 100)
	}
	switch domain.CoercePracticeIndicator(string(snap.Practice)) {
	case domain.PracticeMultiple:
		return 0.75
	case domain.PracticeSome:
		return 0.50
	default:
		return 0.25
	}
}

func verdictFor(pct float64) domain.Verdict {
	switch {
	case pct >= bandExamReady:
		return domain.VerdictExamReady
	case pct >= bandNearlyReady:
		return domain.VerdictNearlyReady
	case pct >= bandNeedsWork:
		return domain.VerdictNeedsWork
	default:
		return domain.VerdictNotReady
	}
}

// expectedProgress is positional: how far through the task's scheduled window
// the learner should be at the given week.
func expectedProgress(task domain.StudyTask, week int) float64 {
	if task.StartWeek == 0 || week < task.StartWeek {
		return 0
	}
	if week > task.EndWeek {
		return 1
	}
	span := task.EndWeek - task.StartWeek + 1
	return float64(week-task.StartWeek+1) / float64(span)
}

func statusFor(delta float64) domain.ProgressStatus {
	switch {
	case delta >= deltaAhead:
		return domain.StatusAhead
	case delta > deltaOnTrack:
		return domain.StatusOnTrack
	case delta > deltaBehind:
		return domain.StatusBehind
	default:
		return domain.StatusCritical
	}
}

func nudges(verdict domain.Verdict, pct, hoursComp float64, statuses []domain.DomainStatus, snap domain.ProgressSnapshot) []domain.Nudge {
	out := make([]domain.Nudge, 0, 5)
	switch verdict {
	case domain.VerdictExamReady:
		out = append(out, domain.Nudge{Level: domain.NudgeSuccess,
			Text: fmt.Sprintf("You are tracking at **%.0f%%** readiness. Hold the current pace through review.", pct)})
	case domain.VerdictNearlyReady:
		out = append(out, domain.Nudge{Level: domain.NudgeInfo,
			Text: fmt.Sprintf("Readiness is **%.0f%%**. A focused push on the flagged domains closes the gap.", pct)})
	case domain.VerdictNeedsWork:
		out = append(out, domain.Nudge{Level: domain.NudgeWarning,
			Text: fmt.Sprintf("Readiness is **%.0f%%**. Rework the weakest domains before booking anything.", pct)})
	default:
		out = append(out, domain.Nudge{Level: domain.NudgeDanger,
			Text: fmt.Sprintf("Readiness is **%.0f%%**. Hold off on scheduling until the fundamentals firm up.", pct)})
	}

	if names := statusNames(statuses, domain.StatusCritical); len(names) > 0 {
		out = append(out, domain.Nudge{Level: domain.NudgeDanger,
			Text: fmt.Sprintf("Critical right now: **%s**. Reallocate this week's hours there.", strings.Join(names, ", "))})
	}
	if names := statusNames(statuses, domain.StatusBehind); len(names) > 0 {
		out = append(out, domain.Nudge{Level: domain.NudgeWarning,
			Text: fmt.Sprintf("Running behind in **%s**. Add a catch-up block this week.", strings.Join(names, ", "))})
	}
	if hoursComp < lowHoursFloor {
		out = append(out, domain.Nudge{Level: domain.NudgeWarning,
			Text: fmt.Sprintf("Logged hours sit at **%.0f%%** of budget. Protect your study calendar.", 100*hoursComp)})
	}
	if snap.PracticeScore == nil && domain.CoercePracticeIndicator(string(snap.Practice)) == domain.PracticeNone {
		out = append(out, domain.Nudge{Level: domain.NudgeInfo,
			Text: "No practice exam on record. Take **one timed test** to calibrate these numbers."})
	}
	return out
}

func statusNames(statuses []domain.DomainStatus, want domain.ProgressStatus) []string {
	var names []string
	for _, s := range statuses {
		if s.Status == want {
			names = append(names, s.Name)
		}
	}
	return names
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
