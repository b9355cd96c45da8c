package planner_test

import (
	"math"
	"reflect"
	"testing"
	"time"

	"prepline/internal/config"
	"prepline/internal/domain"
	"prepline/internal/planner"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testExam(t *testing.T, code string) domain.Exam {
	t.Helper()
	exam, ok := config.Default().Exam(code)
	if !ok {
		t.Fatalf("exam %s missing from default catalog", code)
	}
	return exam
}

func testProfile(exam domain.Exam, hoursPerWeek float64, weeks int) domain.LearnerProfile {
	p := domain.LearnerProfile{
		SessionID: "sess-1",
		Intake: domain.Intake{
			Name:         "Dana",
			ExamCode:     exam.Code,
			HoursPerWeek: hoursPerWeek,
			TotalWeeks:   weeks,
		},
		BudgetHours: hoursPerWeek * float64(weeks),
	}
	for _, d := range exam.Domains {
		p.Domains = append(p.Domains, domain.DomainProfile{
			DomainID:   d.ID,
			Knowledge:  domain.KnowledgeWeak,
			Confidence: 0.4,
		})
	}
	return p
}

func TestBuildBudgetExact(t *testing.T) {
	exam := testExam(t, "az-900")
	cases := []struct {
		hours float64
		weeks int
	}{
		{8, 6},
		{7.5, 4},
		{10, 12},
		{1, 1},
	}
	for _, tc := range cases {
		p := testProfile(exam, tc.hours, tc.weeks)
		plan, err := planner.Build(exam, p, testNow)
		if err != nil {
			t.Fatalf("build %v: %v", tc, err)
		}
		want := tc.hours * float64(tc.weeks)
		sum := 0.0
		for _, task := range plan.Tasks {
			sum += task.Hours
			if r := math.Mod(task.Hours, 0.5); math.Abs(r) > 1e-9 && math.Abs(r-0.5) > 1e-9 {
				t.Fatalf("task %s hours %v not on half-hour grid", task.DomainID, task.Hours)
			}
		}
		if math.Abs(sum-want) > 1e-9 {
			t.Fatalf("budget %v: tasks sum to %v", want, sum)
		}
		if plan.BudgetHours != want {
			t.Fatalf("plan budget = %v, want %v", plan.BudgetHours, want)
		}
	}
}

func TestBuildWeekInvariants(t *testing.T) {
	exam := testExam(t, "az-104")
	p := testProfile(exam, 6, 10)
	p.Domains[1].Knowledge = domain.KnowledgeStrong
	p.Domains[1].Skip = true
	p.RiskDomains = []string{exam.Domains[3].ID}

	plan, err := planner.Build(exam, p, testNow)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Tasks) != len(exam.Domains) {
		t.Fatalf("got %d tasks, want one per domain (%d)", len(plan.Tasks), len(exam.Domains))
	}
	if plan.ReviewStartWeek != 10 {
		t.Fatalf("review start = %d, want 10 for a 10-week plan", plan.ReviewStartWeek)
	}
	prevStart := 0
	for _, task := range plan.Tasks {
		if task.StartWeek < 1 || task.EndWeek < task.StartWeek || task.EndWeek > plan.TotalWeeks+1 {
			t.Fatalf("task %s has window [%d,%d] outside a %d-week plan", task.DomainID, task.StartWeek, task.EndWeek, plan.TotalWeeks)
		}
		if task.Priority == domain.PrioritySkip {
			continue
		}
		if task.StartWeek < prevStart {
			t.Fatalf("task %s starts week %d before previous start %d", task.DomainID, task.StartWeek, prevStart)
		}
		prevStart = task.StartWeek
	}
}

func TestBuildShortPlanStillValid(t *testing.T) {
	exam := testExam(t, "az-900")
	p := testProfile(exam, 2, 1)
	plan, err := planner.Build(exam, p, testNow)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if plan.ReviewStartWeek != 2 {
		t.Fatalf("one-week plan review start = %d, want 2", plan.ReviewStartWeek)
	}
	for _, task := range plan.Tasks {
		if task.StartWeek < 1 || task.EndWeek > plan.TotalWeeks+1 {
			t.Fatalf("task %s window [%d,%d] escapes the plan", task.DomainID, task.StartWeek, task.EndWeek)
		}
	}
}

func TestBuildPriorityOrdering(t *testing.T) {
	exam := testExam(t, "az-900")
	p := testProfile(exam, 8, 6)
	// weak+risky first domain, strong second, skip third
	p.RiskDomains = []string{exam.Domains[0].ID}
	p.Domains[1].Knowledge = domain.KnowledgeStrong
	p.Domains[1].Confidence = 0.9
	p.Domains[2].Knowledge = domain.KnowledgeStrong
	p.Domains[2].Skip = true

	plan, err := planner.Build(exam, p, testNow)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := plan.Tasks[0]; got.DomainID != exam.Domains[0].ID || got.Priority != domain.PriorityCritical {
		t.Fatalf("first task = %s/%s, want %s at critical", got.DomainID, got.Priority, exam.Domains[0].ID)
	}
	last := plan.Tasks[len(plan.Tasks)-1]
	if last.Priority != domain.PrioritySkip {
		t.Fatalf("last task priority = %s, want skip", last.Priority)
	}
	if last.Hours > 0.05*plan.BudgetHours+0.5 {
		t.Fatalf("skip task got %v hours of a %v budget, want near zero", last.Hours, plan.BudgetHours)
	}
	for _, task := range plan.Tasks[:len(plan.Tasks)-1] {
		if task.Hours < last.Hours {
			t.Fatalf("non-skip task %s got %v hours, less than the skip task's %v", task.DomainID, task.Hours, last.Hours)
		}
	}
	if last.StartWeek != plan.ReviewStartWeek || last.EndWeek != plan.ReviewStartWeek {
		t.Fatalf("skip task window [%d,%d], want pinned to review week %d", last.StartWeek, last.EndWeek, plan.ReviewStartWeek)
	}
}

func TestBuildPrereqGap(t *testing.T) {
	exam := testExam(t, "az-104")
	p := testProfile(exam, 6, 8)
	plan, err := planner.Build(exam, p, testNow)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !plan.PrereqGap || plan.PrereqNote == "" {
		t.Fatalf("expected prereq gap for az-104 without az-900, got gap=%v note=%q", plan.PrereqGap, plan.PrereqNote)
	}

	p.Intake.Certifications = []string{" AZ-900 "}
	plan, err = planner.Build(exam, p, testNow)
	if err != nil {
		t.Fatalf("build with cert: %v", err)
	}
	if plan.PrereqGap {
		t.Fatal("prereq gap reported even though the learner holds az-900")
	}
}

func TestBuildDeterministic(t *testing.T) {
	exam := testExam(t, "az-900")
	p := testProfile(exam, 8, 6)
	p.RiskDomains = []string{exam.Domains[1].ID}
	a, err := planner.Build(exam, p, testNow)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b, err := planner.Build(exam, p, testNow)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("two builds from the same profile differ")
	}
}

func TestCurateExcludesKnownMaterial(t *testing.T) {
	cfg := config.Default()
	exam := testExam(t, "az-900")
	p := testProfile(exam, 8, 6)
	p.Domains[2].Knowledge = domain.KnowledgeStrong
	p.Domains[2].Skip = true
	all := cfg.ModulesFor(exam.Code)
	if len(all) == 0 {
		t.Fatal("default catalog has no az-900 modules")
	}
	p.SkipModules = []string{all[0].Name}

	path := planner.Curate(cfg, exam, p, testNow)
	sum := 0.0
	for _, m := range path.Modules {
		sum += m.Hours
		if m.DomainID == exam.Domains[2].ID {
			t.Fatalf("module %q from skipped domain made it into the path", m.Name)
		}
		if m.Name == all[0].Name {
			t.Fatalf("module %q was marked known but still curated", m.Name)
		}
	}
	if math.Abs(sum-path.TotalHours) > 1e-9 {
		t.Fatalf("total hours %v does not match module sum %v", path.TotalHours, sum)
	}
	if len(path.Modules) >= len(all) {
		t.Fatalf("curation kept %d of %d modules, expected some excluded", len(path.Modules), len(all))
	}
}

func TestCurateOrdersByPlanPriority(t *testing.T) {
	cfg := config.Default()
	exam := testExam(t, "az-900")
	p := testProfile(exam, 8, 6)
	// make the last catalog domain the weakest so it should lead the path
	for i := range p.Domains {
		p.Domains[i].Knowledge = domain.KnowledgeStrong
	}
	weakest := exam.Domains[len(exam.Domains)-1].ID
	p.Domains[len(p.Domains)-1].Knowledge = domain.KnowledgeWeak
	p.RiskDomains = []string{weakest}

	path := planner.Curate(cfg, exam, p, testNow)
	if len(path.Modules) == 0 {
		t.Fatal("empty path")
	}
	if path.Modules[0].DomainID != weakest {
		t.Fatalf("path leads with %s, want weakest domain %s first", path.Modules[0].DomainID, weakest)
	}
}
