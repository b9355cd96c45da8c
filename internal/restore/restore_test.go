package restore_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"prepline/internal/domain"
	"prepline/internal/restore"
)

func TestFromMapDropsUnknownKeys(t *testing.T) {
	base := map[string]any{
		"session_id":  "s-1",
		"exam_code":   "az-900",
		"total_weeks": 12,
		"summary":     "twelve weeks",
	}
	withExtra := map[string]any{}
	for k, v := range base {
		withExtra[k] = v
	}
	withExtra["legacy_field"] = "ignore me"
	withExtra["retired_at"] = "2023-01-01"

	clean, err := restore.FromMap[domain.StudyPlan](base)
	if err != nil {
		t.Fatalf("from map: %v", err)
	}
	dirty, err := restore.FromMap[domain.StudyPlan](withExtra)
	if err != nil {
		t.Fatalf("from map with extras: %v", err)
	}
	if !reflect.DeepEqual(clean, dirty) {
		t.Fatalf("unknown keys changed the result: %+v vs %+v", clean, dirty)
	}
	if dirty.TotalWeeks != 12 || dirty.ExamCode != "az-900" {
		t.Fatalf("known fields lost: %+v", dirty)
	}
}

func TestFromMapFiltersNestedCollections(t *testing.T) {
	m := map[string]any{
		"session_id": "s-1",
		"tasks": []any{
			map[string]any{
				"domain_id":     "storage",
				"hours":         6.5,
				"start_week":    1,
				"end_week":      3,
				"ai_confidence": 0.93,
			},
		},
		"review_start_week": 11,
	}
	plan, err := restore.FromMap[domain.StudyPlan](m)
	if err != nil {
		t.Fatalf("from map: %v", err)
	}
	if len(plan.Tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(plan.Tasks))
	}
	task := plan.Tasks[0]
	if task.DomainID != "storage" || task.Hours != 6.5 || task.StartWeek != 1 || task.EndWeek != 3 {
		t.Fatalf("nested fields mangled: %+v", task)
	}
}

func TestStaleEnumsFallBack(t *testing.T) {
	m := map[string]any{
		"session_id": "s-1",
		"verdict":    "ALMOST_READY",
		"nudges": []any{
			map[string]any{"level": "severe", "text": "old row"},
		},
	}
	r, err := restore.FromMap[domain.ReadinessAssessment](m)
	if err != nil {
		t.Fatalf("from map: %v", err)
	}
	if r.Verdict != domain.VerdictNeedsWork {
		t.Fatalf("stale verdict coerced to %q, want %q", r.Verdict, domain.VerdictNeedsWork)
	}
	if len(r.Nudges) != 1 || r.Nudges[0].Level != domain.NudgeInfo {
		t.Fatalf("stale nudge level coerced to %+v, want info", r.Nudges)
	}
}

func TestMissingFieldsZeroValue(t *testing.T) {
	snap, err := restore.FromMap[domain.ProgressSnapshot](map[string]any{"week": 3})
	if err != nil {
		t.Fatalf("from map: %v", err)
	}
	if snap.Week != 3 || snap.HoursSpent != 0 || snap.PracticeScore != nil {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if domain.CoercePracticeIndicator(string(snap.Practice)) != domain.PracticeNone {
		t.Fatalf("missing practice indicator should coerce to none, got %q", snap.Practice)
	}
}

func TestEntityRoundTrips(t *testing.T) {
	score := 62.5
	profile := domain.LearnerProfile{
		SessionID: "s-9",
		Intake: domain.Intake{
			Name:         "Dana",
			ExamCode:     "az-104",
			Experience:   domain.ExperienceIntermediate,
			Style:        domain.StyleHandsOn,
			HoursPerWeek: 8,
			TotalWeeks:   10,
		},
		BudgetHours: 80,
		Domains: []domain.DomainProfile{
			{DomainID: "storage", Knowledge: domain.KnowledgeWeak, Confidence: 0.4},
			{DomainID: "compute", Knowledge: domain.KnowledgeStrong, Confidence: 0.85, Skip: true},
		},
		RiskDomains: []string{"storage"},
		Analogies:   map[string]string{"storage": "a warehouse with labeled shelves"},
		CreatedAt:   "2024-01-01T00:00:00Z",
	}
	snap := domain.ProgressSnapshot{
		ID:            "snap-1",
		SessionID:     "s-9",
		Week:          4,
		HoursSpent:    30,
		SelfRatings:   map[string]int{"storage": 3, "compute": 5},
		PracticeScore: &score,
		Practice:      domain.PracticeSome,
		CreatedAt:     "2024-01-29T00:00:00Z",
	}

	checkRoundTrip(t, profile)
	checkRoundTrip(t, snap)
}

func checkRoundTrip[T any](t *testing.T, in T) {
	t.Helper()
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := restore.Entity[T](data)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip changed value:\n in: %+v\nout: %+v", in, out)
	}
}

func TestTypeMismatchStillFails(t *testing.T) {
	_, err := restore.FromMap[domain.StudyPlan](map[string]any{"total_weeks": "twelve"})
	if err == nil {
		t.Fatal("expected error for mistyped known field")
	}
}
