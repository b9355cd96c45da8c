// Package guardrails holds the stateless checkers that gate each pipeline
// stage. Checkers never mutate their input and never halt anything
// themselves; the engine decides what a BLOCK means.
package guardrails

import (
	"fmt"
	"regexp"
	"strings"

	"prepline/internal/config"
	"prepline/internal/domain"
)

const (
	StageIntake     = "intake"
	StageProfile    = "profile"
	StagePlan       = "plan"
	StageSnapshot   = "snapshot"
	StageAssessment = "assessment"
	StageReadiness  = "readiness"
	StageAdvice     = "advice"
	StageContent    = "content"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+\d{7,15}|\b\d{3}[-.]\d{3}[-.]\d{4}\b`)
	urlPattern   = regexp.MustCompile(`https?://[^\s)"']+`)
)

func violation(rule string, sev domain.Severity, field, format string, args ...any) domain.GuardrailViolation {
	return domain.GuardrailViolation{
		Rule:     rule,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
		Field:    field,
	}
}

// CheckIntake validates raw learner input before a session is created.
func CheckIntake(cfg *config.Config, in domain.Intake) domain.GuardrailResult {
	res := domain.GuardrailResult{Stage: StageIntake}
	if strings.TrimSpace(in.Name) == "" {
		res.Violations = append(res.Violations,
			violation("G-01", domain.SeverityBlock, "name", "learner name is required"))
	}
	if strings.TrimSpace(in.ExamCode) == "" {
		res.Violations = append(res.Violations,
			violation("G-01", domain.SeverityBlock, "exam_code", "target exam is required"))
	}
	if strings.TrimSpace(in.Background) == "" {
		res.Violations = append(res.Violations,
			violation("G-02", domain.SeverityWarn, "background", "no background provided; profiling will lean on defaults"))
	}
	if in.HoursPerWeek < cfg.Limits.MinHoursPerWeek || in.HoursPerWeek > cfg.Limits.MaxHoursPerWeek {
		res.Violations = append(res.Violations,
			violation("G-03", domain.SeverityWarn, "hours_per_week", "%.1f hours/week is outside the realistic range [%.0f, %.0f]",
				in.HoursPerWeek, cfg.Limits.MinHoursPerWeek, cfg.Limits.MaxHoursPerWeek))
	}
	if in.TotalWeeks < 1 {
		res.Violations = append(res.Violations,
			violation("G-04", domain.SeverityBlock, "total_weeks", "at least one study week is required"))
	} else if in.TotalWeeks > cfg.Limits.MaxWeeks {
		res.Violations = append(res.Violations,
			violation("G-04", domain.SeverityWarn, "total_weeks", "%d weeks exceeds the supported horizon of %d",
				in.TotalWeeks, cfg.Limits.MaxWeeks))
	}
	if code := strings.TrimSpace(in.ExamCode); code != "" {
		if _, ok := cfg.Catalog.Exams[code]; !ok {
			res.Violations = append(res.Violations,
				violation("G-05", domain.SeverityWarn, "exam_code", "unknown exam %s; the %s catalog will be used instead",
					code, cfg.Catalog.DefaultExam))
		}
	}
	res.Violations = append(res.Violations,
		violation("G-06", domain.SeverityInfo, "", "identity details stay in the local workspace and leave it only through configured webhooks"))
	return res
}

// CheckProfile validates a built learner profile against the exam catalog.
func CheckProfile(cfg *config.Config, exam domain.Exam, p domain.LearnerProfile) domain.GuardrailResult {
	res := domain.GuardrailResult{Stage: StageProfile}
	known := make(map[string]bool, len(exam.Domains))
	for _, d := range exam.Domains {
		known[d.ID] = true
	}
	if len(p.Domains) != len(exam.Domains) {
		res.Violations = append(res.Violations,
			violation("G-07", domain.SeverityWarn, "domains", "profile covers %d domains but %s lists %d",
				len(p.Domains), exam.Code, len(exam.Domains)))
	}
	for _, dp := range p.Domains {
		if !known[dp.DomainID] {
			res.Violations = append(res.Violations,
				violation("G-07", domain.SeverityWarn, "domains", "profile names unknown domain %s", dp.DomainID))
		}
		if dp.Confidence < 0 || dp.Confidence > 1 {
			res.Violations = append(res.Violations,
				violation("G-08", domain.SeverityBlock, "confidence", "confidence %.2f for %s is outside [0, 1]",
					dp.Confidence, dp.DomainID))
		}
	}
	for _, id := range p.RiskDomains {
		if !known[id] {
			res.Violations = append(res.Violations,
				violation("G-07", domain.SeverityWarn, "risk_domains", "risk list names unknown domain %s", id))
		}
	}
	return res
}

// CheckPlan validates a built study plan.
func CheckPlan(cfg *config.Config, plan domain.StudyPlan) domain.GuardrailResult {
	res := domain.GuardrailResult{Stage: StagePlan}
	var total float64
	for _, t := range plan.Tasks {
		if t.StartWeek > t.EndWeek {
			res.Violations = append(res.Violations,
				violation("G-09", domain.SeverityBlock, "tasks", "%s is scheduled from week %d to week %d",
					t.DomainID, t.StartWeek, t.EndWeek))
		}
		total += t.Hours
	}
	if plan.BudgetHours > 0 && total > plan.BudgetHours*cfg.Limits.BudgetTolerance {
		res.Violations = append(res.Violations,
			violation("G-10", domain.SeverityWarn, "tasks", "planned %.1f hours exceed %.0f%% of the %.1f hour budget",
				total, cfg.Limits.BudgetTolerance*100, plan.BudgetHours))
	}
	return res
}

// CheckSnapshot validates a progress snapshot.
func CheckSnapshot(cfg *config.Config, snap domain.ProgressSnapshot) domain.GuardrailResult {
	res := domain.GuardrailResult{Stage: StageSnapshot}
	if snap.HoursSpent < 0 {
		res.Violations = append(res.Violations,
			violation("G-11", domain.SeverityBlock, "hours_spent", "hours spent cannot be negative"))
	}
	for id, rating := range snap.SelfRatings {
		if rating < 1 || rating > 5 {
			res.Violations = append(res.Violations,
				violation("G-12", domain.SeverityBlock, "self_ratings", "self rating %d for %s is outside 1..5", rating, id))
		}
	}
	if snap.PracticeScore != nil && (*snap.PracticeScore < 0 || *snap.PracticeScore > 100) {
		res.Violations = append(res.Violations,
			violation("G-13", domain.SeverityBlock, "practice_score", "practice score %.1f is outside [0, 100]", *snap.PracticeScore))
	}
	return res
}

// CheckAssessment validates a generated quiz before it is offered.
func CheckAssessment(cfg *config.Config, a domain.Assessment) domain.GuardrailResult {
	res := domain.GuardrailResult{Stage: StageAssessment}
	if len(a.Questions) < cfg.Limits.MinQuestions {
		res.Violations = append(res.Violations,
			violation("G-14", domain.SeverityWarn, "questions", "%d questions is below the floor of %d",
				len(a.Questions), cfg.Limits.MinQuestions))
	}
	seen := make(map[string]bool, len(a.Questions))
	for _, q := range a.Questions {
		if seen[q.ID] {
			res.Violations = append(res.Violations,
				violation("G-15", domain.SeverityBlock, "questions", "duplicate question id %s", q.ID))
			continue
		}
		seen[q.ID] = true
	}
	return res
}

// Field names one outbound text for content checking.
type Field struct {
	Name string
	Text string
}

// CheckContent scans learner-facing text before it leaves the pipeline.
func CheckContent(cfg *config.Config, fields []Field) domain.GuardrailResult {
	res := domain.GuardrailResult{Stage: StageContent}
	for _, f := range fields {
		lower := strings.ToLower(f.Text)
		for _, term := range cfg.Content.BlockedTerms {
			if term != "" && strings.Contains(lower, strings.ToLower(term)) {
				res.Violations = append(res.Violations,
					violation("G-16", domain.SeverityBlock, f.Name, "blocked phrase %q", term))
			}
		}
		if emailPattern.MatchString(f.Text) || phonePattern.MatchString(f.Text) {
			res.Violations = append(res.Violations,
				violation("G-17", domain.SeverityWarn, f.Name, "possible personal data in outbound text"))
		}
		for _, u := range urlPattern.FindAllString(f.Text, -1) {
			if !cfg.TrustedURL(u) {
				res.Violations = append(res.Violations,
					violation("G-18", domain.SeverityWarn, f.Name, "link %s is not under a trusted prefix", u))
			}
		}
	}
	return res
}
