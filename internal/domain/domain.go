package domain

import "encoding/json"

// PassScorePct is the shared go threshold: quiz pass/fail, readiness
// messaging, and the advisor all compare against it.
const PassScorePct = 70.0

type KnowledgeLevel string

const (
	KnowledgeUnknown  KnowledgeLevel = "unknown"
	KnowledgeWeak     KnowledgeLevel = "weak"
	KnowledgeModerate KnowledgeLevel = "moderate"
	KnowledgeStrong   KnowledgeLevel = "strong"
)

// CoerceKnowledgeLevel maps any spelling to a valid level, falling back to
// unknown. Missing values coerce the same way as invalid ones.
func CoerceKnowledgeLevel(s string) KnowledgeLevel {
	switch KnowledgeLevel(s) {
	case KnowledgeWeak, KnowledgeModerate, KnowledgeStrong:
		return KnowledgeLevel(s)
	default:
		return KnowledgeUnknown
	}
}

// Rank orders levels unknown < weak < moderate < strong.
func (k KnowledgeLevel) Rank() int {
	switch CoerceKnowledgeLevel(string(k)) {
	case KnowledgeWeak:
		return 1
	case KnowledgeModerate:
		return 2
	case KnowledgeStrong:
		return 3
	default:
		return 0
	}
}

func (k *KnowledgeLevel) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, CoerceKnowledgeLevel, k)
}

type ExperienceLevel string

const (
	ExperienceBeginner     ExperienceLevel = "beginner"
	ExperienceIntermediate ExperienceLevel = "intermediate"
	ExperienceAdvanced     ExperienceLevel = "advanced"
)

func CoerceExperienceLevel(s string) ExperienceLevel {
	switch ExperienceLevel(s) {
	case ExperienceIntermediate, ExperienceAdvanced:
		return ExperienceLevel(s)
	default:
		return ExperienceBeginner
	}
}

func (e *ExperienceLevel) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, CoerceExperienceLevel, e)
}

type LearningStyle string

const (
	StyleVisual  LearningStyle = "visual"
	StyleReading LearningStyle = "reading"
	StyleHandsOn LearningStyle = "hands_on"
	StyleMixed   LearningStyle = "mixed"
)

func CoerceLearningStyle(s string) LearningStyle {
	switch LearningStyle(s) {
	case StyleVisual, StyleReading, StyleHandsOn:
		return LearningStyle(s)
	default:
		return StyleMixed
	}
}

func (l *LearningStyle) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, CoerceLearningStyle, l)
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
	PrioritySkip     Priority = "skip"
)

func CoercePriority(s string) Priority {
	switch Priority(s) {
	case PriorityCritical, PriorityHigh, PriorityLow, PrioritySkip:
		return Priority(s)
	default:
		return PriorityMedium
	}
}

// Rank orders priorities critical first, skip last.
func (p Priority) Rank() int {
	switch CoercePriority(string(p)) {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, CoercePriority, p)
}

type Verdict string

const (
	VerdictNotReady    Verdict = "NOT_READY"
	VerdictNeedsWork   Verdict = "NEEDS_WORK"
	VerdictNearlyReady Verdict = "NEARLY_READY"
	VerdictExamReady   Verdict = "EXAM_READY"
)

func CoerceVerdict(s string) Verdict {
	switch Verdict(s) {
	case VerdictNotReady, VerdictNearlyReady, VerdictExamReady:
		return Verdict(s)
	default:
		return VerdictNeedsWork
	}
}

// Rank orders verdicts NOT_READY < NEEDS_WORK < NEARLY_READY < EXAM_READY.
func (v Verdict) Rank() int {
	switch CoerceVerdict(string(v)) {
	case VerdictNotReady:
		return 0
	case VerdictNearlyReady:
		return 2
	case VerdictExamReady:
		return 3
	default:
		return 1
	}
}

func (v *Verdict) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, CoerceVerdict, v)
}

type NudgeLevel string

const (
	NudgeDanger  NudgeLevel = "danger"
	NudgeWarning NudgeLevel = "warning"
	NudgeInfo    NudgeLevel = "info"
	NudgeSuccess NudgeLevel = "success"
)

func CoerceNudgeLevel(s string) NudgeLevel {
	switch NudgeLevel(s) {
	case NudgeDanger, NudgeWarning, NudgeSuccess:
		return NudgeLevel(s)
	default:
		return NudgeInfo
	}
}

func (n *NudgeLevel) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, CoerceNudgeLevel, n)
}

type ProgressStatus string

const (
	StatusAhead    ProgressStatus = "ahead"
	StatusOnTrack  ProgressStatus = "on_track"
	StatusBehind   ProgressStatus = "behind"
	StatusCritical ProgressStatus = "critical"
)

func CoerceProgressStatus(s string) ProgressStatus {
	switch ProgressStatus(s) {
	case StatusAhead, StatusBehind, StatusCritical:
		return ProgressStatus(s)
	default:
		return StatusOnTrack
	}
}

func (p *ProgressStatus) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, CoerceProgressStatus, p)
}

type PracticeIndicator string

const (
	PracticeNone     PracticeIndicator = "none"
	PracticeSome     PracticeIndicator = "some"
	PracticeMultiple PracticeIndicator = "multiple"
)

func CoercePracticeIndicator(s string) PracticeIndicator {
	switch PracticeIndicator(s) {
	case PracticeSome, PracticeMultiple:
		return PracticeIndicator(s)
	default:
		return PracticeNone
	}
}

func (p *PracticeIndicator) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, CoercePracticeIndicator, p)
}

type Severity string

const (
	SeverityBlock Severity = "BLOCK"
	SeverityWarn  Severity = "WARN"
	SeverityInfo  Severity = "INFO"
)

func CoerceSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityBlock, SeverityWarn:
		return Severity(s)
	default:
		return SeverityInfo
	}
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, CoerceSeverity, s)
}

func unmarshalEnum[T ~string](b []byte, coerce func(string) T, dst *T) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*dst = coerce("")
		return nil
	}
	*dst = coerce(s)
	return nil
}

// Catalog

type Domain struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description,omitempty"`
}

type Exam struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Level        ExperienceLevel `json:"level"`
	Prerequisite string          `json:"prerequisite,omitempty"`
	Next         string          `json:"next,omitempty"`
	Domains      []Domain        `json:"domains"`
}

// Intake and profile

type Intake struct {
	Name           string          `json:"name"`
	Email          string          `json:"email,omitempty"`
	ExamCode       string          `json:"exam_code"`
	Background     string          `json:"background,omitempty"`
	Experience     ExperienceLevel `json:"experience"`
	Style          LearningStyle   `json:"style"`
	HoursPerWeek   float64         `json:"hours_per_week"`
	TotalWeeks     int             `json:"total_weeks"`
	Certifications []string        `json:"certifications,omitempty"`
}

type DomainProfile struct {
	DomainID   string         `json:"domain_id"`
	Knowledge  KnowledgeLevel `json:"knowledge"`
	Confidence float64        `json:"confidence"`
	Skip       bool           `json:"skip,omitempty"`
	Note       string         `json:"note,omitempty"`
}

type LearnerProfile struct {
	SessionID      string            `json:"session_id"`
	Intake         Intake            `json:"intake"`
	BudgetHours    float64           `json:"budget_hours"`
	Domains        []DomainProfile   `json:"domains"`
	RiskDomains    []string          `json:"risk_domains,omitempty"`
	SkipModules    []string          `json:"skip_modules,omitempty"`
	Analogies      map[string]string `json:"analogies,omitempty"`
	Recommendation string            `json:"recommendation,omitempty"`
	CreatedAt      string            `json:"created_at" format:"date-time"`
}

// Plan and path

type StudyTask struct {
	DomainID   string   `json:"domain_id"`
	DomainName string   `json:"domain_name"`
	Priority   Priority `json:"priority"`
	Hours      float64  `json:"hours"`
	StartWeek  int      `json:"start_week"`
	EndWeek    int      `json:"end_week"`
	Note       string   `json:"note,omitempty"`
}

type StudyPlan struct {
	SessionID       string      `json:"session_id"`
	ExamCode        string      `json:"exam_code"`
	TotalWeeks      int         `json:"total_weeks"`
	HoursPerWeek    float64     `json:"hours_per_week"`
	BudgetHours     float64     `json:"budget_hours"`
	Tasks           []StudyTask `json:"tasks"`
	ReviewStartWeek int         `json:"review_start_week"`
	PrereqGap       bool        `json:"prereq_gap,omitempty"`
	PrereqNote      string      `json:"prereq_note,omitempty"`
	Summary         string      `json:"summary"`
	CreatedAt       string      `json:"created_at" format:"date-time"`
}

type PathModule struct {
	Name     string          `json:"name"`
	DomainID string          `json:"domain_id"`
	URL      string          `json:"url,omitempty"`
	Level    ExperienceLevel `json:"level"`
	Hours    float64         `json:"hours"`
}

type LearningPath struct {
	SessionID  string       `json:"session_id"`
	ExamCode   string       `json:"exam_code"`
	Modules    []PathModule `json:"modules"`
	TotalHours float64      `json:"total_hours"`
	Summary    string       `json:"summary"`
	CreatedAt  string       `json:"created_at" format:"date-time"`
}

// Progress

type ProgressSnapshot struct {
	ID            string            `json:"id"`
	SessionID     string            `json:"session_id"`
	Week          int               `json:"week"`
	HoursSpent    float64           `json:"hours_spent"`
	SelfRatings   map[string]int    `json:"self_ratings,omitempty"`
	PracticeScore *float64          `json:"practice_score,omitempty"`
	Practice      PracticeIndicator `json:"practice"`
	Note          string            `json:"note,omitempty"`
	CreatedAt     string            `json:"created_at" format:"date-time"`
}

// Readiness

type DomainStatus struct {
	DomainID string         `json:"domain_id"`
	Name     string         `json:"name"`
	Actual   float64        `json:"actual"`
	Expected float64        `json:"expected"`
	Status   ProgressStatus `json:"status"`
}

type Nudge struct {
	Level NudgeLevel `json:"level"`
	Text  string     `json:"text"`
}

type ReadinessAssessment struct {
	SessionID         string         `json:"session_id"`
	ReadinessPct      float64        `json:"readiness_pct"`
	Verdict           Verdict        `json:"verdict"`
	DomainComponent   float64        `json:"domain_component"`
	HoursComponent    float64        `json:"hours_component"`
	PracticeComponent float64        `json:"practice_component"`
	DomainStatuses    []DomainStatus `json:"domain_statuses"`
	Nudges            []Nudge        `json:"nudges"`
	GoNoGoReason      string         `json:"go_nogo_reason"`
	CreatedAt         string         `json:"created_at" format:"date-time"`
}

// Quiz

type QuizQuestion struct {
	ID           string   `json:"id"`
	DomainID     string   `json:"domain_id"`
	DomainName   string   `json:"domain_name,omitempty"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation,omitempty"`
}

type Assessment struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	ExamCode  string         `json:"exam_code"`
	Questions []QuizQuestion `json:"questions"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type QuestionFeedback struct {
	QuestionID   string `json:"question_id"`
	Selected     int    `json:"selected"`
	CorrectIndex int    `json:"correct_index"`
	Correct      bool   `json:"correct"`
	Explanation  string `json:"explanation,omitempty"`
}

type AssessmentResult struct {
	AssessmentID string             `json:"assessment_id"`
	SessionID    string             `json:"session_id"`
	Correct      int                `json:"correct"`
	Total        int                `json:"total"`
	ScorePct     float64            `json:"score_pct"`
	Passed       bool               `json:"passed"`
	DomainPct    map[string]float64 `json:"domain_pct"`
	Feedback     []QuestionFeedback `json:"feedback"`
	CreatedAt    string             `json:"created_at" format:"date-time"`
}

// Recommendation

type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type Recommendation struct {
	SessionID string     `json:"session_id"`
	GoNoGo    string     `json:"go_nogo" enum:"go,almost,no-go"`
	Reason    string     `json:"reason"`
	NextSteps []string   `json:"next_steps"`
	Resources []Resource `json:"resources,omitempty"`
	NextExam  string     `json:"next_exam,omitempty"`
	CreatedAt string     `json:"created_at" format:"date-time"`
}

// Guardrails

type GuardrailViolation struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Field    string   `json:"field,omitempty"`
}

type GuardrailResult struct {
	Stage      string               `json:"stage"`
	Violations []GuardrailViolation `json:"violations,omitempty"`
}

// Blocked reports whether any violation carries BLOCK severity.
func (r GuardrailResult) Blocked() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations in emission order.
func (r GuardrailResult) Warnings() []GuardrailViolation {
	var out []GuardrailViolation
	for _, v := range r.Violations {
		if v.Severity != SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// Merge appends the other result's violations. The receiver's stage wins
// unless empty.
func (r GuardrailResult) Merge(other GuardrailResult) GuardrailResult {
	merged := GuardrailResult{Stage: r.Stage}
	if merged.Stage == "" {
		merged.Stage = other.Stage
	}
	merged.Violations = append(append([]GuardrailViolation{}, r.Violations...), other.Violations...)
	return merged
}

// Session lifecycle

const (
	StageIntake   = "intake"
	StageProfiled = "profiled"
	StagePlanned  = "planned"
	StageTracking = "tracking"
	StageAssessed = "assessed"
	StageAdvised  = "advised"
)

// StageRank orders pipeline stages; unknown stages rank first.
func StageRank(stage string) int {
	switch stage {
	case StageIntake:
		return 1
	case StageProfiled:
		return 2
	case StagePlanned:
		return 3
	case StageTracking:
		return 4
	case StageAssessed:
		return 5
	case StageAdvised:
		return 6
	default:
		return 0
	}
}

type Session struct {
	ID        string `json:"id"`
	Learner   string `json:"learner"`
	ExamCode  string `json:"exam_code"`
	Stage     string `json:"stage" enum:"intake,profiled,planned,tracking,assessed,advised"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Check struct {
	ID         int64                `json:"id"`
	SessionID  string               `json:"session_id"`
	Stage      string               `json:"stage"`
	Blocked    bool                 `json:"blocked"`
	Violations []GuardrailViolation `json:"violations,omitempty"`
	CreatedAt  string               `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"key_hash"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	LastUsedAt string `json:"last_used_at,omitempty" format:"date-time"`
}
