package advisor_test

import (
	"strings"
	"testing"
	"time"

	"prepline/internal/advisor"
	"prepline/internal/config"
	"prepline/internal/domain"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func readyAssessment(v domain.Verdict, pct float64) domain.ReadinessAssessment {
	return domain.ReadinessAssessment{
		SessionID:       "sess-1",
		ReadinessPct:    pct,
		Verdict:         v,
		HoursComponent:  0.8,
		DomainStatuses:  []domain.DomainStatus{{DomainID: "cloud-concepts", Name: "Cloud Concepts", Actual: 0.8, Status: domain.StatusOnTrack}},
		GoNoGoReason:    "x",
	}
}

func passedResult(pct float64) *domain.AssessmentResult {
	return &domain.AssessmentResult{SessionID: "sess-1", ScorePct: pct, Passed: pct >= domain.PassScorePct}
}

func TestRecommendGo(t *testing.T) {
	cfg := config.Default()
	exam := cfg.DefaultExam()
	rec := advisor.Recommend(cfg, exam, readyAssessment(domain.VerdictExamReady, 82), passedResult(85), testNow)
	if rec.GoNoGo != advisor.GoNoGoGo {
		t.Fatalf("call = %s, want go", rec.GoNoGo)
	}
	if rec.NextExam != exam.Next {
		t.Fatalf("next exam = %q, want %q", rec.NextExam, exam.Next)
	}
	found := false
	for _, s := range rec.NextSteps {
		if strings.Contains(s, "Book the") {
			found = true
		}
	}
	if !found {
		t.Fatalf("go recommendation %v carries no booking step", rec.NextSteps)
	}
	if !strings.Contains(rec.Reason, "above the 70%") {
		t.Fatalf("reason %q does not cite the quiz margin", rec.Reason)
	}
}

func TestRecommendGoWithoutQuiz(t *testing.T) {
	cfg := config.Default()
	exam := cfg.DefaultExam()
	rec := advisor.Recommend(cfg, exam, readyAssessment(domain.VerdictExamReady, 80), nil, testNow)
	if rec.GoNoGo != advisor.GoNoGoGo {
		t.Fatalf("call = %s, want go when ready with no quiz on file", rec.GoNoGo)
	}
	if !strings.Contains(rec.Reason, "no scored quiz") {
		t.Fatalf("reason %q should note the missing quiz", rec.Reason)
	}
}

func TestRecommendAlmostOnFailedQuiz(t *testing.T) {
	cfg := config.Default()
	exam := cfg.DefaultExam()
	rec := advisor.Recommend(cfg, exam, readyAssessment(domain.VerdictExamReady, 78), passedResult(55), testNow)
	if rec.GoNoGo != advisor.GoNoGoAlmost {
		t.Fatalf("call = %s, want almost when the quiz failed", rec.GoNoGo)
	}
	if rec.NextExam != "" {
		t.Fatalf("next exam %q set on a non-go call", rec.NextExam)
	}
	retake := false
	for _, s := range rec.NextSteps {
		if strings.Contains(s, "Retake") {
			retake = true
		}
	}
	if !retake {
		t.Fatalf("failed quiz but no retake step in %v", rec.NextSteps)
	}
}

func TestRecommendNoGoOrdersSteps(t *testing.T) {
	cfg := config.Default()
	exam := cfg.DefaultExam()
	r := readyAssessment(domain.VerdictNotReady, 30)
	r.HoursComponent = 0.1
	r.DomainStatuses = []domain.DomainStatus{
		{DomainID: "cloud-concepts", Name: "Cloud Concepts", Actual: 0.1, Status: domain.StatusCritical},
		{DomainID: "azure-architecture", Name: "Core Azure Architecture", Actual: 0.3, Status: domain.StatusBehind},
	}
	rec := advisor.Recommend(cfg, exam, r, nil, testNow)
	if rec.GoNoGo != advisor.GoNoGoNoGo {
		t.Fatalf("call = %s, want no-go", rec.GoNoGo)
	}
	if len(rec.NextSteps) < 4 {
		t.Fatalf("want critical, behind, hours and quiz steps, got %v", rec.NextSteps)
	}
	if !strings.Contains(rec.NextSteps[0], "Cloud Concepts") {
		t.Fatalf("first step %q should target the critical domain", rec.NextSteps[0])
	}
	if !strings.Contains(rec.NextSteps[1], "Core Azure Architecture") {
		t.Fatalf("second step %q should target the behind domain", rec.NextSteps[1])
	}
}

func TestRecommendResourcesTrustedAndCapped(t *testing.T) {
	cfg := config.Default()
	exam := cfg.DefaultExam()
	r := readyAssessment(domain.VerdictNeedsWork, 50)
	r.DomainStatuses = []domain.DomainStatus{
		{DomainID: "azure-architecture", Name: "Core Azure Architecture", Actual: 0.2, Status: domain.StatusCritical},
		{DomainID: "cloud-concepts", Name: "Cloud Concepts", Actual: 0.5, Status: domain.StatusOnTrack},
	}
	rec := advisor.Recommend(cfg, exam, r, nil, testNow)
	if len(rec.Resources) == 0 || len(rec.Resources) > 4 {
		t.Fatalf("got %d resources, want 1..4", len(rec.Resources))
	}
	if rec.Resources[0].URL == "" || !cfg.TrustedURL(rec.Resources[0].URL) {
		t.Fatalf("resource %+v not from a trusted source", rec.Resources[0])
	}
	// weakest domain's material leads
	mods := cfg.ModulesFor(exam.Code)
	leadDomain := ""
	for _, m := range mods {
		if m.Name == rec.Resources[0].Title {
			leadDomain = m.DomainID
		}
	}
	if leadDomain != "azure-architecture" {
		t.Fatalf("lead resource %q is from %s, want the weakest domain", rec.Resources[0].Title, leadDomain)
	}
}

func TestRecommendDeterministic(t *testing.T) {
	cfg := config.Default()
	exam := cfg.DefaultExam()
	r := readyAssessment(domain.VerdictNearlyReady, 65)
	a := advisor.Recommend(cfg, exam, r, passedResult(60), testNow)
	b := advisor.Recommend(cfg, exam, r, passedResult(60), testNow)
	if a.Reason != b.Reason || len(a.NextSteps) != len(b.NextSteps) {
		t.Fatal("identical inputs produced different recommendations")
	}
	for i := range a.NextSteps {
		if a.NextSteps[i] != b.NextSteps[i] {
			t.Fatalf("step %d differs: %q vs %q", i, a.NextSteps[i], b.NextSteps[i])
		}
	}
}
