package server

import (
	"encoding/json"

	"prepline/internal/config"
	"prepline/internal/domain"
)

// Request payloads

type CreateSessionRequest struct {
	Name           string   `json:"name"`
	Email          string   `json:"email,omitempty"`
	ExamCode       string   `json:"exam_code,omitempty"`
	Background     string   `json:"background,omitempty"`
	Experience     string   `json:"experience,omitempty" enum:"beginner,intermediate,advanced"`
	Style          string   `json:"style,omitempty" enum:"visual,reading,hands_on,mixed"`
	HoursPerWeek   float64  `json:"hours_per_week"`
	TotalWeeks     int      `json:"total_weeks"`
	Certifications []string `json:"certifications,omitempty"`
}

func (r CreateSessionRequest) intake() domain.Intake {
	return domain.Intake{
		Name:           r.Name,
		Email:          r.Email,
		ExamCode:       r.ExamCode,
		Background:     r.Background,
		Experience:     domain.CoerceExperienceLevel(r.Experience),
		Style:          domain.CoerceLearningStyle(r.Style),
		HoursPerWeek:   r.HoursPerWeek,
		TotalWeeks:     r.TotalWeeks,
		Certifications: r.Certifications,
	}
}

type ProgressRequest struct {
	Week          int            `json:"week"`
	HoursSpent    float64        `json:"hours_spent"`
	SelfRatings   map[string]int `json:"self_ratings,omitempty"`
	PracticeScore *float64       `json:"practice_score,omitempty"`
	Practice      string         `json:"practice,omitempty" enum:"none,some,multiple"`
	Note          string         `json:"note,omitempty"`
}

type AnswersRequest struct {
	Answers []int `json:"answers"`
}

// Response payloads. Stage documents (profile, plan, path, snapshots,
// readiness, results, recommendations) already carry their wire shape in
// domain, so handlers return them directly; views below exist only where the
// API shape differs from the stored one.

type PlanWithPathResponse struct {
	Plan domain.StudyPlan    `json:"plan"`
	Path domain.LearningPath `json:"path"`
}

// QuizQuestionView is a question without its answer key. Grading stays
// server-side; feedback on submitted answers carries the explanations.
type QuizQuestionView struct {
	ID         string   `json:"id"`
	DomainID   string   `json:"domain_id"`
	DomainName string   `json:"domain_name,omitempty"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
}

type QuizResponse struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	ExamCode  string             `json:"exam_code"`
	Questions []QuizQuestionView `json:"questions"`
	CreatedAt string             `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type ExamSummary struct {
	Code         string                 `json:"code"`
	Name         string                 `json:"name"`
	Level        domain.ExperienceLevel `json:"level"`
	Prerequisite string                 `json:"prerequisite,omitempty"`
	Next         string                 `json:"next,omitempty"`
	Domains      int                    `json:"domains"`
	Modules      int                    `json:"modules"`
	Questions    int                    `json:"questions"`
}

type CatalogResponse struct {
	DefaultExam string        `json:"default_exam"`
	Exams       []ExamSummary `json:"exams"`
}

// ExamDetailResponse exposes an exam with its curated modules. The question
// bank stays private; only its size is reported.
type ExamDetailResponse struct {
	Exam      domain.Exam         `json:"exam"`
	Modules   []domain.PathModule `json:"modules"`
	Questions int                 `json:"questions"`
}

// Conversion helpers

func quizResponse(a domain.Assessment) QuizResponse {
	questions := make([]QuizQuestionView, 0, len(a.Questions))
	for _, q := range a.Questions {
		questions = append(questions, QuizQuestionView{
			ID:         q.ID,
			DomainID:   q.DomainID,
			DomainName: q.DomainName,
			Prompt:     q.Prompt,
			Options:    q.Options,
		})
	}
	return QuizResponse{
		ID:        a.ID,
		SessionID: a.SessionID,
		ExamCode:  a.ExamCode,
		Questions: questions,
		CreatedAt: a.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SessionID:  e.SessionID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func catalogResponse(cfg *config.Config) CatalogResponse {
	res := CatalogResponse{
		DefaultExam: cfg.Catalog.DefaultExam,
		Exams:       []ExamSummary{},
	}
	for _, code := range cfg.ExamCodes() {
		exam, _ := cfg.Exam(code)
		res.Exams = append(res.Exams, ExamSummary{
			Code:         exam.Code,
			Name:         exam.Name,
			Level:        exam.Level,
			Prerequisite: exam.Prerequisite,
			Next:         exam.Next,
			Domains:      len(exam.Domains),
			Modules:      len(cfg.ModulesFor(code)),
			Questions:    len(cfg.QuestionsFor(code)),
		})
	}
	return res
}

func examDetailResponse(cfg *config.Config, exam domain.Exam) ExamDetailResponse {
	return ExamDetailResponse{
		Exam:      exam,
		Modules:   cfg.ModulesFor(exam.Code),
		Questions: len(cfg.QuestionsFor(exam.Code)),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
