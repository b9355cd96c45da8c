package guardrails_test

import (
	"testing"

	"prepline/internal/config"
	"prepline/internal/domain"
	"prepline/internal/guardrails"
)

func hasRule(r domain.GuardrailResult, rule string, sev domain.Severity) bool {
	for _, v := range r.Violations {
		if v.Rule == rule && v.Severity == sev {
			return true
		}
	}
	return false
}

func validIntake() domain.Intake {
	return domain.Intake{
		Name:         "Sam",
		ExamCode:     "az-900",
		Background:   "two years of helpdesk work",
		HoursPerWeek: 8,
		TotalWeeks:   10,
	}
}

func TestIntakeBlocksMissingIdentity(t *testing.T) {
	cfg := config.Default()
	res := guardrails.CheckIntake(cfg, domain.Intake{HoursPerWeek: 8, TotalWeeks: 10, Background: "x"})
	if !res.Blocked() {
		t.Fatal("missing name and exam should block")
	}
	if !hasRule(res, "G-01", domain.SeverityBlock) {
		t.Fatalf("expected G-01 blocks, got %+v", res.Violations)
	}

	ok := guardrails.CheckIntake(cfg, validIntake())
	if ok.Blocked() {
		t.Fatalf("valid intake blocked: %+v", ok.Violations)
	}
	if !hasRule(ok, "G-06", domain.SeverityInfo) {
		t.Fatal("privacy notice G-06 must always be present")
	}
}

func TestIntakeRangeRules(t *testing.T) {
	cfg := config.Default()

	in := validIntake()
	in.HoursPerWeek = 0.5
	res := guardrails.CheckIntake(cfg, in)
	if res.Blocked() {
		t.Fatal("hours warning must not block")
	}
	if !hasRule(res, "G-03", domain.SeverityWarn) {
		t.Fatalf("expected G-03 warn, got %+v", res.Violations)
	}

	in = validIntake()
	in.TotalWeeks = 0
	if res := guardrails.CheckIntake(cfg, in); !res.Blocked() || !hasRule(res, "G-04", domain.SeverityBlock) {
		t.Fatalf("zero weeks should block with G-04, got %+v", res.Violations)
	}

	in = validIntake()
	in.TotalWeeks = 60
	res = guardrails.CheckIntake(cfg, in)
	if res.Blocked() || !hasRule(res, "G-04", domain.SeverityWarn) {
		t.Fatalf("long horizon should warn, got %+v", res.Violations)
	}

	in = validIntake()
	in.ExamCode = "zz-999"
	res = guardrails.CheckIntake(cfg, in)
	if res.Blocked() || !hasRule(res, "G-05", domain.SeverityWarn) {
		t.Fatalf("unknown exam should warn, got %+v", res.Violations)
	}
}

func TestProfileRules(t *testing.T) {
	cfg := config.Default()
	exam, _ := cfg.Exam("az-900")

	p := domain.LearnerProfile{Domains: []domain.DomainProfile{
		{DomainID: "cloud-concepts", Confidence: 0.4},
		{DomainID: "azure-architecture", Confidence: 1.5},
		{DomainID: "management-governance", Confidence: 0.6},
	}}
	res := guardrails.CheckProfile(cfg, exam, p)
	if !res.Blocked() || !hasRule(res, "G-08", domain.SeverityBlock) {
		t.Fatalf("out-of-range confidence should block with G-08, got %+v", res.Violations)
	}

	p = domain.LearnerProfile{
		Domains:     []domain.DomainProfile{{DomainID: "cloud-concepts", Confidence: 0.5}},
		RiskDomains: []string{"not-a-domain"},
	}
	res = guardrails.CheckProfile(cfg, exam, p)
	if res.Blocked() {
		t.Fatal("registry drift should not block")
	}
	if !hasRule(res, "G-07", domain.SeverityWarn) {
		t.Fatalf("expected G-07 warns, got %+v", res.Violations)
	}
}

func TestPlanWeekOrderBlocks(t *testing.T) {
	cfg := config.Default()
	plan := domain.StudyPlan{
		BudgetHours: 80,
		Tasks: []domain.StudyTask{
			{DomainID: "storage", Hours: 10, StartWeek: 5, EndWeek: 3},
		},
	}
	res := guardrails.CheckPlan(cfg, plan)
	if !res.Blocked() || !hasRule(res, "G-09", domain.SeverityBlock) {
		t.Fatalf("start after end should block with G-09, got %+v", res.Violations)
	}
}

func TestPlanBudgetOverrunWarns(t *testing.T) {
	cfg := config.Default()
	plan := domain.StudyPlan{
		BudgetHours: 100,
		Tasks: []domain.StudyTask{
			{DomainID: "a", Hours: 120, StartWeek: 1, EndWeek: 4},
		},
	}
	res := guardrails.CheckPlan(cfg, plan)
	if res.Blocked() {
		t.Fatal("budget overrun must stay a warning")
	}
	if !hasRule(res, "G-10", domain.SeverityWarn) {
		t.Fatalf("expected G-10 warn, got %+v", res.Violations)
	}
}

func TestSnapshotRules(t *testing.T) {
	cfg := config.Default()

	res := guardrails.CheckSnapshot(cfg, domain.ProgressSnapshot{HoursSpent: -1})
	if !res.Blocked() || !hasRule(res, "G-11", domain.SeverityBlock) {
		t.Fatalf("negative hours should block with G-11, got %+v", res.Violations)
	}

	res = guardrails.CheckSnapshot(cfg, domain.ProgressSnapshot{
		SelfRatings: map[string]int{"storage": 6},
	})
	if !res.Blocked() || !hasRule(res, "G-12", domain.SeverityBlock) {
		t.Fatalf("rating 6 should block with G-12, got %+v", res.Violations)
	}

	bad := 101.0
	res = guardrails.CheckSnapshot(cfg, domain.ProgressSnapshot{PracticeScore: &bad})
	if !res.Blocked() || !hasRule(res, "G-13", domain.SeverityBlock) {
		t.Fatalf("practice score 101 should block with G-13, got %+v", res.Violations)
	}

	good := 85.0
	res = guardrails.CheckSnapshot(cfg, domain.ProgressSnapshot{
		HoursSpent:    12,
		SelfRatings:   map[string]int{"storage": 4},
		PracticeScore: &good,
	})
	if len(res.Violations) != 0 {
		t.Fatalf("clean snapshot produced violations: %+v", res.Violations)
	}
}

func TestAssessmentRules(t *testing.T) {
	cfg := config.Default()

	small := domain.Assessment{Questions: []domain.QuizQuestion{
		{ID: "q1"}, {ID: "q2"}, {ID: "q3"}, {ID: "q4"},
	}}
	res := guardrails.CheckAssessment(cfg, small)
	if res.Blocked() || !hasRule(res, "G-14", domain.SeverityWarn) {
		t.Fatalf("small quiz should warn with G-14, got %+v", res.Violations)
	}

	dup := domain.Assessment{Questions: []domain.QuizQuestion{
		{ID: "q1"}, {ID: "q2"}, {ID: "q1"}, {ID: "q3"}, {ID: "q4"},
	}}
	res = guardrails.CheckAssessment(cfg, dup)
	if !res.Blocked() || !hasRule(res, "G-15", domain.SeverityBlock) {
		t.Fatalf("duplicate ids should block with G-15, got %+v", res.Violations)
	}
}

func TestContentRules(t *testing.T) {
	cfg := config.Default()

	res := guardrails.CheckContent(cfg, []guardrails.Field{
		{Name: "summary", Text: "Grab this braindump of real questions"},
	})
	if !res.Blocked() || !hasRule(res, "G-16", domain.SeverityBlock) {
		t.Fatalf("blocked phrase should block with G-16, got %+v", res.Violations)
	}

	res = guardrails.CheckContent(cfg, []guardrails.Field{
		{Name: "note", Text: "reach me at sam@example.com"},
	})
	if res.Blocked() || !hasRule(res, "G-17", domain.SeverityWarn) {
		t.Fatalf("email should warn with G-17, got %+v", res.Violations)
	}

	res = guardrails.CheckContent(cfg, []guardrails.Field{
		{Name: "resources", Text: "see https://sketchy.example.net/cheats"},
	})
	if res.Blocked() || !hasRule(res, "G-18", domain.SeverityWarn) {
		t.Fatalf("untrusted link should warn with G-18, got %+v", res.Violations)
	}

	res = guardrails.CheckContent(cfg, []guardrails.Field{
		{Name: "resources", Text: "see https://learn.microsoft.com/training/"},
	})
	if len(res.Violations) != 0 {
		t.Fatalf("trusted link flagged: %+v", res.Violations)
	}
}

func TestMergeCombines(t *testing.T) {
	a := domain.GuardrailResult{Stage: "plan", Violations: []domain.GuardrailViolation{
		{Rule: "G-09", Severity: domain.SeverityBlock, Message: "x"},
	}}
	b := domain.GuardrailResult{Stage: "content", Violations: []domain.GuardrailViolation{
		{Rule: "G-18", Severity: domain.SeverityWarn, Message: "y"},
	}}
	merged := a.Merge(b)
	if len(merged.Violations) != 2 || merged.Stage != "plan" {
		t.Fatalf("unexpected merge: %+v", merged)
	}
	if !merged.Blocked() {
		t.Fatal("merge lost the blocking violation")
	}
}
