package quiz_test

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"prepline/internal/config"
	"prepline/internal/domain"
	"prepline/internal/quiz"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func defaultExam(t *testing.T, code string) (*config.Config, domain.Exam) {
	t.Helper()
	cfg := config.Default()
	exam, ok := cfg.Exam(code)
	if !ok {
		t.Fatalf("exam %s missing from default catalog", code)
	}
	return cfg, exam
}

func TestGenerateCountsFollowWeights(t *testing.T) {
	cfg, exam := defaultExam(t, "az-900")
	a := quiz.Generate(cfg, exam, "sess-1", 0, 12, testNow)
	if len(a.Questions) != 12 {
		t.Fatalf("generated %d questions, want 12", len(a.Questions))
	}
	perDomain := map[string]int{}
	for _, q := range a.Questions {
		perDomain[q.DomainID]++
	}
	// largest remainder over weights .28/.39/.33
	want := map[string]int{"cloud-concepts": 3, "azure-architecture": 5, "management-governance": 4}
	if !reflect.DeepEqual(perDomain, want) {
		t.Fatalf("per-domain counts = %v, want %v", perDomain, want)
	}
}

func TestGenerateQuestionShape(t *testing.T) {
	cfg, exam := defaultExam(t, "az-900")
	a := quiz.Generate(cfg, exam, "sess-1", 0, 15, testNow)
	seen := map[string]bool{}
	for _, q := range a.Questions {
		if len(q.Options) != 4 {
			t.Fatalf("question %s has %d options, want 4", q.ID, len(q.Options))
		}
		if q.CorrectIndex < 0 || q.CorrectIndex > 3 {
			t.Fatalf("question %s correct index %d out of range", q.ID, q.CorrectIndex)
		}
		if q.Options[q.CorrectIndex] == "" {
			t.Fatalf("question %s has an empty correct option", q.ID)
		}
		if seen[q.ID] {
			t.Fatalf("duplicate question id %s", q.ID)
		}
		seen[q.ID] = true
		if q.Prompt == "" || q.DomainName == "" {
			t.Fatalf("question %s missing prompt or domain name", q.ID)
		}
	}
}

func TestGenerateUsesBankFirst(t *testing.T) {
	cfg, exam := defaultExam(t, "az-900")
	a := quiz.Generate(cfg, exam, "sess-1", 0, 12, testNow)
	var first domain.QuizQuestion
	for _, q := range a.Questions {
		if q.DomainID == "cloud-concepts" {
			first = q
			break
		}
	}
	bank := cfg.QuestionsFor("az-900")
	if len(bank) == 0 {
		t.Fatal("default catalog carries no bank questions")
	}
	if first.Prompt != bank[0].Prompt {
		t.Fatalf("first cloud-concepts prompt = %q, want bank question %q", first.Prompt, bank[0].Prompt)
	}
	if first.CorrectIndex != bank[0].Answer {
		t.Fatalf("bank answer index = %d, want %d", first.CorrectIndex, bank[0].Answer)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	cfg, exam := defaultExam(t, "az-900")
	a := quiz.Generate(cfg, exam, "sess-1", 0, 10, testNow)
	b := quiz.Generate(cfg, exam, "sess-1", 0, 10, testNow)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same session and count produced different assessments")
	}
	c := quiz.Generate(cfg, exam, "sess-1", 1, 10, testNow)
	if c.ID == a.ID {
		t.Fatal("second quiz in a session reused the first quiz id")
	}
	d := quiz.Generate(cfg, exam, "sess-2", 0, 10, testNow)
	if d.ID == a.ID {
		t.Fatal("different sessions share an assessment id")
	}
}

func manualAssessment(n int) (domain.Exam, domain.Assessment) {
	exam := domain.Exam{
		Code: "x-100",
		Domains: []domain.Domain{
			{ID: "d1", Name: "One", Weight: 0.5},
			{ID: "d2", Name: "Two", Weight: 0.5},
		},
	}
	a := domain.Assessment{ID: "a-1", SessionID: "sess-1", ExamCode: exam.Code}
	for i := 0; i < n; i++ {
		dom := "d1"
		if i%2 == 1 {
			dom = "d2"
		}
		a.Questions = append(a.Questions, domain.QuizQuestion{
			ID:           rune2id(i),
			DomainID:     dom,
			Prompt:       "q",
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: i % 4,
			Explanation:  "because",
		})
	}
	return exam, a
}

func rune2id(i int) string { return string(rune('a' + i)) }

func TestScorePerfectSheet(t *testing.T) {
	exam, a := manualAssessment(10)
	answers := make([]int, 10)
	for i := range answers {
		answers[i] = i % 4
	}
	res, err := quiz.Score(exam, a, answers, testNow)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.ScorePct != 100 || !res.Passed {
		t.Fatalf("perfect sheet scored %.1f passed=%v", res.ScorePct, res.Passed)
	}
	for id, pct := range res.DomainPct {
		if pct != 100 {
			t.Fatalf("domain %s = %.1f, want 100", id, pct)
		}
	}
	if len(res.Feedback) != 10 {
		t.Fatalf("got %d feedback rows, want 10", len(res.Feedback))
	}
}

func TestScoreShiftedSheetScoresZero(t *testing.T) {
	exam, a := manualAssessment(12)
	answers := make([]int, 12)
	for i := range answers {
		answers[i] = (i%4 + 1) % 4
	}
	res, err := quiz.Score(exam, a, answers, testNow)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.ScorePct != 0 || res.Passed {
		t.Fatalf("shifted sheet scored %.1f passed=%v, want 0 and failed", res.ScorePct, res.Passed)
	}
}

func TestScoreHalfCorrect(t *testing.T) {
	exam, a := manualAssessment(10)
	answers := make([]int, 10)
	for i := range answers {
		if i < 5 {
			answers[i] = i % 4
		} else {
			answers[i] = (i%4 + 1) % 4
		}
	}
	res, err := quiz.Score(exam, a, answers, testNow)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if math.Abs(res.ScorePct-50) > 5 {
		t.Fatalf("half-correct sheet scored %.1f, want within 5 of 50", res.ScorePct)
	}
	if res.Passed {
		t.Fatal("half-correct sheet must not pass a 70% bar")
	}
}

func TestScoreAnswerCountMismatch(t *testing.T) {
	exam, a := manualAssessment(8)
	_, err := quiz.Score(exam, a, []int{0, 1, 2}, testNow)
	var ace *quiz.AnswerCountError
	if !errors.As(err, &ace) {
		t.Fatalf("want AnswerCountError, got %v", err)
	}
	if ace.Got != 3 || ace.Want != 8 {
		t.Fatalf("error carries got=%d want=%d", ace.Got, ace.Want)
	}
}

func TestScoreZeroQuestionDomainReportsZero(t *testing.T) {
	exam, a := manualAssessment(4)
	exam.Domains = append(exam.Domains, domain.Domain{ID: "d3", Name: "Three", Weight: 0})
	answers := []int{0, 1, 2, 3}
	res, err := quiz.Score(exam, a, answers, testNow)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	pct, ok := res.DomainPct["d3"]
	if !ok {
		t.Fatal("domain with zero questions missing from the per-domain map")
	}
	if pct != 0 {
		t.Fatalf("zero-question domain scored %.1f, want 0", pct)
	}
}

func TestScoreOutOfRangeSelectionIsWrong(t *testing.T) {
	exam, a := manualAssessment(2)
	res, err := quiz.Score(exam, a, []int{7, -1}, testNow)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Correct != 0 {
		t.Fatalf("out-of-range selections scored %d correct", res.Correct)
	}
	if res.Feedback[0].Selected != 7 || res.Feedback[1].Selected != -1 {
		t.Fatalf("feedback does not echo raw selections: %+v", res.Feedback)
	}
}

func TestScoreEmptyAssessment(t *testing.T) {
	exam, a := manualAssessment(0)
	res, err := quiz.Score(exam, a, nil, testNow)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.ScorePct != 0 || res.Passed {
		t.Fatalf("empty assessment scored %.1f passed=%v", res.ScorePct, res.Passed)
	}
}
