// Package advisor turns a readiness assessment and the latest quiz result
// into a go/no-go recommendation with concrete next steps.
package advisor

import (
	"fmt"
	"sort"
	"time"

	"prepline/internal/config"
	"prepline/internal/domain"
)

const (
	GoNoGoGo     = "go"
	GoNoGoAlmost = "almost"
	GoNoGoNoGo   = "no-go"
)

const maxResources = 4

// Recommend is pure and deterministic; result is nil when no quiz has been
// scored yet.
func Recommend(cfg *config.Config, exam domain.Exam, r domain.ReadinessAssessment, result *domain.AssessmentResult, now time.Time) domain.Recommendation {
	rec := domain.Recommendation{
		SessionID: r.SessionID,
		GoNoGo:    callIt(r.Verdict, result),
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
	rec.Reason = reason(rec.GoNoGo, r, result)
	rec.NextSteps = nextSteps(rec.GoNoGo, exam, r, result)
	rec.Resources = resources(cfg, exam, r)
	if rec.GoNoGo == GoNoGoGo {
		rec.NextExam = exam.Next
	}
	return rec
}

func callIt(v domain.Verdict, result *domain.AssessmentResult) string {
	switch {
	case v == domain.VerdictExamReady && (result == nil || result.Passed):
		return GoNoGoGo
	case v == domain.VerdictNearlyReady:
		return GoNoGoAlmost
	case v == domain.VerdictExamReady:
		// ready on paper, failed the quiz
		return GoNoGoAlmost
	default:
		return GoNoGoNoGo
	}
}

func reason(call string, r domain.ReadinessAssessment, result *domain.AssessmentResult) string {
	if result == nil {
		return fmt.Sprintf("%s: %s at %.0f%% readiness with no scored quiz yet.", call, r.Verdict, r.ReadinessPct)
	}
	margin := result.ScorePct - domain.PassScorePct
	if margin >= 0 {
		return fmt.Sprintf("%s: %s at %.0f%% readiness; latest quiz %.0f%%, %.0f points above the %.0f%% pass bar.",
			call, r.Verdict, r.ReadinessPct, result.ScorePct, margin, domain.PassScorePct)
	}
	return fmt.Sprintf("%s: %s at %.0f%% readiness; latest quiz %.0f%%, %.0f points under the %.0f%% pass bar.",
		call, r.Verdict, r.ReadinessPct, result.ScorePct, -margin, domain.PassScorePct)
}

func nextSteps(call string, exam domain.Exam, r domain.ReadinessAssessment, result *domain.AssessmentResult) []string {
	var steps []string
	for _, s := range r.DomainStatuses {
		if s.Status == domain.StatusCritical {
			steps = append(steps, fmt.Sprintf("Revisit %s before anything else.", s.Name))
		}
	}
	for _, s := range r.DomainStatuses {
		if s.Status == domain.StatusBehind {
			steps = append(steps, fmt.Sprintf("Schedule a catch-up block for %s.", s.Name))
		}
	}
	if r.HoursComponent < 0.5 {
		steps = append(steps, fmt.Sprintf("Raise weekly study hours; you have logged %.0f%% of the budget.", 100*r.HoursComponent))
	}
	switch {
	case result == nil:
		steps = append(steps, fmt.Sprintf("Take a timed practice quiz and aim above %.0f%%.", domain.PassScorePct))
	case !result.Passed:
		steps = append(steps, fmt.Sprintf("Retake a practice quiz after review; last score %.0f%%.", result.ScorePct))
	}
	if call == GoNoGoGo {
		steps = append(steps, fmt.Sprintf("Book the %s exam within the next two weeks.", exam.Name))
	} else {
		steps = append(steps, "Reassess readiness after the next progress check-in.")
	}
	return steps
}

// resources picks catalog modules for the weakest domains, trusted URLs only.
func resources(cfg *config.Config, exam domain.Exam, r domain.ReadinessAssessment) []domain.Resource {
	statuses := append([]domain.DomainStatus(nil), r.DomainStatuses...)
	sort.SliceStable(statuses, func(a, b int) bool {
		return statuses[a].Actual < statuses[b].Actual
	})

	byDomain := make(map[string][]domain.PathModule)
	for _, m := range cfg.ModulesFor(exam.Code) {
		byDomain[m.DomainID] = append(byDomain[m.DomainID], m)
	}

	var out []domain.Resource
	for _, s := range statuses {
		for _, m := range byDomain[s.DomainID] {
			if len(out) == maxResources {
				return out
			}
			if m.URL == "" || !cfg.TrustedURL(m.URL) {
				continue
			}
			out = append(out, domain.Resource{Title: m.Name, URL: m.URL})
		}
	}
	return out
}
