// Package planner turns a learner profile into a week-by-week study plan and
// a curated module path. Both builders are pure and permissive: they schedule
// whatever the profile describes and leave enforcement to the plan gate.
package planner

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"prepline/internal/alloc"
	"prepline/internal/config"
	"prepline/internal/domain"
)

const (
	hoursUnit      = 0.5
	reviewFraction = 0.12
	skipWeight     = 0.05
	riskBoost      = 1.25
)

func levelFactor(k domain.KnowledgeLevel) float64 {
	switch domain.CoerceKnowledgeLevel(string(k)) {
	case domain.KnowledgeStrong:
		return 0.6
	case domain.KnowledgeModerate:
		return 1.0
	case domain.KnowledgeWeak:
		return 1.5
	default:
		return 1.8
	}
}

// Build produces the study plan for a profiled learner. Hours come from the
// largest-remainder split at half-hour granularity; weeks come from a cursor
// walk over the priority-ordered tasks, with the final stretch reserved for
// review.
func Build(exam domain.Exam, p domain.LearnerProfile, now time.Time) (domain.StudyPlan, error) {
	intake := p.Intake
	budget := intake.HoursPerWeek * float64(intake.TotalWeeks)

	byID := make(map[string]domain.DomainProfile, len(p.Domains))
	for _, dp := range p.Domains {
		byID[dp.DomainID] = dp
	}
	risky := make(map[string]bool, len(p.RiskDomains))
	for _, id := range p.RiskDomains {
		risky[id] = true
	}

	buckets := make([]alloc.Bucket, 0, len(exam.Domains))
	for _, d := range exam.Domains {
		dp := byID[d.ID]
		w := d.Weight * levelFactor(dp.Knowledge)
		if risky[d.ID] {
			w *= riskBoost
		}
		if dp.Skip {
			w = d.Weight * skipWeight
		}
		buckets = append(buckets, alloc.Bucket{Key: d.ID, Weight: w})
	}
	hours, err := alloc.Split(budget, hoursUnit, buckets)
	if err != nil {
		return domain.StudyPlan{}, fmt.Errorf("allocate hours: %w", err)
	}

	tasks := make([]domain.StudyTask, 0, len(exam.Domains))
	for _, d := range exam.Domains {
		dp := byID[d.ID]
		tasks = append(tasks, domain.StudyTask{
			DomainID:   d.ID,
			DomainName: d.Name,
			Priority:   taskPriority(dp, risky[d.ID]),
			Hours:      hours[d.ID],
			Note:       taskNote(dp, risky[d.ID]),
		})
	}
	sort.SliceStable(tasks, func(a, b int) bool {
		return tasks[a].Priority.Rank() < tasks[b].Priority.Rank()
	})

	reviewWeeks := int(math.Round(reviewFraction * float64(intake.TotalWeeks)))
	if reviewWeeks < 1 {
		reviewWeeks = 1
	}
	studyWeeks := intake.TotalWeeks - reviewWeeks
	if studyWeeks < 1 {
		studyWeeks = intake.TotalWeeks
	}
	reviewStart := studyWeeks + 1

	cursor := 1
	for i := range tasks {
		if tasks[i].Priority == domain.PrioritySkip {
			tasks[i].StartWeek = reviewStart
			tasks[i].EndWeek = reviewStart
			continue
		}
		span := 1
		if intake.HoursPerWeek > 0 {
			if s := int(math.Round(tasks[i].Hours / intake.HoursPerWeek)); s > span {
				span = s
			}
		}
		start := cursor
		if start > studyWeeks {
			start = studyWeeks
		}
		end := start + span - 1
		if end > studyWeeks {
			end = studyWeeks
		}
		tasks[i].StartWeek = start
		tasks[i].EndWeek = end
		cursor = end + 1
	}

	plan := domain.StudyPlan{
		SessionID:       p.SessionID,
		ExamCode:        exam.Code,
		TotalWeeks:      intake.TotalWeeks,
		HoursPerWeek:    intake.HoursPerWeek,
		BudgetHours:     budget,
		Tasks:           tasks,
		ReviewStartWeek: reviewStart,
		CreatedAt:       now.UTC().Format(time.RFC3339),
	}

	if exam.Prerequisite != "" && !holdsCert(intake.Certifications, exam.Prerequisite) {
		plan.PrereqGap = true
		plan.PrereqNote = fmt.Sprintf("%s assumes %s material; plan a fundamentals refresher alongside week 1", exam.Code, exam.Prerequisite)
	}

	plan.Summary = summarize(exam, plan)
	return plan, nil
}

func taskPriority(dp domain.DomainProfile, risk bool) domain.Priority {
	weakish := dp.Knowledge.Rank() <= domain.KnowledgeWeak.Rank()
	switch {
	case dp.Skip:
		return domain.PrioritySkip
	case risk && weakish:
		return domain.PriorityCritical
	case risk || weakish:
		return domain.PriorityHigh
	case dp.Knowledge.Rank() == domain.KnowledgeModerate.Rank():
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

func taskNote(dp domain.DomainProfile, risk bool) string {
	switch taskPriority(dp, risk) {
	case domain.PriorityCritical:
		return "weak area with heavy exam weight; front-loaded"
	case domain.PriorityHigh:
		return "needs focused attention early"
	case domain.PriorityMedium:
		return "steady mid-plan coverage"
	case domain.PriorityLow:
		return "light refresh near the end"
	default:
		return "marked known; revisit only during review"
	}
}

func holdsCert(certs []string, code string) bool {
	for _, c := range certs {
		if strings.EqualFold(strings.TrimSpace(c), code) {
			return true
		}
	}
	return false
}

func summarize(exam domain.Exam, plan domain.StudyPlan) string {
	focus := "fundamentals"
	for _, t := range plan.Tasks {
		if t.Priority != domain.PrioritySkip {
			focus = t.DomainName
			break
		}
	}
	return fmt.Sprintf("%d-week plan for %s: %.1f hours across %d domains, starting with %s; review begins week %d.",
		plan.TotalWeeks, exam.Code, plan.BudgetHours, len(plan.Tasks), focus, plan.ReviewStartWeek)
}

// Curate assembles the learning path: catalog modules for the exam, minus
// everything the profile marks as already known, ordered the same way the
// plan orders its tasks.
func Curate(cfg *config.Config, exam domain.Exam, p domain.LearnerProfile, now time.Time) domain.LearningPath {
	byID := make(map[string]domain.DomainProfile, len(p.Domains))
	for _, dp := range p.Domains {
		byID[dp.DomainID] = dp
	}
	risky := make(map[string]bool, len(p.RiskDomains))
	for _, id := range p.RiskDomains {
		risky[id] = true
	}
	skipName := make(map[string]bool, len(p.SkipModules))
	for _, name := range p.SkipModules {
		skipName[strings.ToLower(strings.TrimSpace(name))] = true
	}

	order := make([]string, 0, len(exam.Domains))
	for _, d := range exam.Domains {
		order = append(order, d.ID)
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa := taskPriority(byID[order[a]], risky[order[a]])
		pb := taskPriority(byID[order[b]], risky[order[b]])
		return pa.Rank() < pb.Rank()
	})

	byDomain := make(map[string][]domain.PathModule)
	for _, m := range cfg.ModulesFor(exam.Code) {
		byDomain[m.DomainID] = append(byDomain[m.DomainID], m)
	}

	path := domain.LearningPath{
		SessionID: p.SessionID,
		ExamCode:  exam.Code,
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
	skipped := 0
	for _, id := range order {
		if byID[id].Skip {
			skipped += len(byDomain[id])
			continue
		}
		for _, m := range byDomain[id] {
			if skipName[strings.ToLower(m.Name)] {
				skipped++
				continue
			}
			path.Modules = append(path.Modules, m)
			path.TotalHours += m.Hours
		}
	}
	path.Summary = fmt.Sprintf("%d modules (%.1f hours) curated for %s; %d skipped as already known.",
		len(path.Modules), path.TotalHours, exam.Code, skipped)
	return path
}
