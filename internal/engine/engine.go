package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"prepline/internal/advisor"
	"prepline/internal/config"
	"prepline/internal/domain"
	"prepline/internal/events"
	"prepline/internal/guardrails"
	"prepline/internal/logging"
	"prepline/internal/planner"
	"prepline/internal/profiler"
	"prepline/internal/quiz"
	"prepline/internal/readiness"
	"prepline/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Profiler profiler.Profiler
	Log      *logging.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Profiler: profiler.Heuristic{},
		Log:      logging.Nop(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// GateError is returned when a guardrail check blocks a pipeline stage. The
// full result rides along so callers can render every violation.
type GateError struct {
	Stage  string
	Result domain.GuardrailResult
}

func (e *GateError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == domain.SeverityBlock {
			return fmt.Sprintf("%s gate blocked: [%s] %s", e.Stage, v.Rule, v.Message)
		}
	}
	return fmt.Sprintf("%s gate blocked", e.Stage)
}

// gate enforces a guardrail result before any artifact is written. A blocked
// result persists its check row and a gate.blocked event in their own
// transaction and returns GateError; warnings only log. The caller records
// the check row for non-blocked results inside the artifact transaction.
func (e Engine) gate(ctx context.Context, sessionID, actorID string, res domain.GuardrailResult) error {
	if !res.Blocked() {
		for _, v := range res.Warnings() {
			if v.Severity == domain.SeverityWarn {
				e.Log.Warn("guardrail flagged", "stage", res.Stage, "rule", v.Rule, "detail", v.Message)
			}
		}
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCheck(ctx, tx, e.checkRow(sessionID, res)); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeGateBlocked, sessionID, "check", res.Stage, actorID, events.EventPayload{
		"stage":      res.Stage,
		"violations": len(res.Violations),
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return &GateError{Stage: res.Stage, Result: res}
}

func (e Engine) checkRow(sessionID string, res domain.GuardrailResult) domain.Check {
	return domain.Check{
		SessionID:  sessionID,
		Stage:      res.Stage,
		Blocked:    res.Blocked(),
		Violations: res.Violations,
		CreatedAt:  e.stamp(),
	}
}

// advanceStage moves the session forward but never backward, so re-running
// an earlier stage keeps the furthest point reached.
func (e Engine) advanceStage(ctx context.Context, tx *sql.Tx, s domain.Session, stage, now string) error {
	if domain.StageRank(stage) <= domain.StageRank(s.Stage) {
		return nil
	}
	return e.Repo.UpdateSessionStage(ctx, tx, s.ID, stage, now)
}

func (e Engine) exam(code string) domain.Exam {
	if exam, ok := e.Config.Exam(code); ok {
		return exam
	}
	return e.Config.DefaultExam()
}

func (e Engine) session(ctx context.Context, id string) (domain.Session, error) {
	s, err := e.Repo.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("session: %w", err)
	}
	return s, nil
}

// IntakeOptions carry the raw learner input into session creation.
type IntakeOptions struct {
	Intake  domain.Intake
	ActorID string
}

// Intake gates the raw input, creates the session and stores the intake.
func (e Engine) Intake(ctx context.Context, opts IntakeOptions) (domain.Session, error) {
	if e.Config == nil {
		return domain.Session{}, errors.New("config not loaded")
	}
	in := opts.Intake
	now := e.stamp()
	id := uuid.NewString()
	res := guardrails.CheckIntake(e.Config, in)
	if err := e.gate(ctx, id, opts.ActorID, res); err != nil {
		return domain.Session{}, err
	}
	s := domain.Session{
		ID:        id,
		Learner:   in.Name,
		ExamCode:  in.ExamCode,
		Stage:     domain.StageIntake,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if err := e.Repo.SaveIntake(ctx, tx, s.ID, in, now); err != nil {
		return domain.Session{}, err
	}
	if err := e.Repo.InsertCheck(ctx, tx, e.checkRow(s.ID, res)); err != nil {
		return domain.Session{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeSessionCreated, s.ID, "session", s.ID, opts.ActorID, events.EventPayload{
		"learner":   s.Learner,
		"exam_code": s.ExamCode,
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// Profile runs the configured profiler over the stored intake.
func (e Engine) Profile(ctx context.Context, sessionID string) (domain.LearnerProfile, error) {
	s, err := e.session(ctx, sessionID)
	if err != nil {
		return domain.LearnerProfile{}, err
	}
	in, err := e.Repo.GetIntake(ctx, sessionID)
	if err != nil {
		return domain.LearnerProfile{}, fmt.Errorf("intake: %w", err)
	}
	exam := e.exam(s.ExamCode)
	p, err := e.Profiler.Profile(ctx, in, exam)
	if err != nil {
		return domain.LearnerProfile{}, fmt.Errorf("profile: %w", err)
	}
	now := e.stamp()
	p.SessionID = sessionID
	p.CreatedAt = now
	res := guardrails.CheckProfile(e.Config, exam, p)
	if err := e.gate(ctx, sessionID, s.Learner, res); err != nil {
		return domain.LearnerProfile{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LearnerProfile{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveProfile(ctx, tx, sessionID, p, now); err != nil {
		return domain.LearnerProfile{}, err
	}
	if err := e.Repo.InsertCheck(ctx, tx, e.checkRow(sessionID, res)); err != nil {
		return domain.LearnerProfile{}, err
	}
	if err := e.advanceStage(ctx, tx, s, domain.StageProfiled, now); err != nil {
		return domain.LearnerProfile{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeProfileBuilt, sessionID, "profile", sessionID, s.Learner, events.EventPayload{
		"risk_domains": len(p.RiskDomains),
		"budget_hours": p.BudgetHours,
	}); err != nil {
		return domain.LearnerProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LearnerProfile{}, err
	}
	return p, nil
}

// Plan builds the study plan and curates the learning path concurrently;
// both derive from the same profile and never touch shared state, and both
// land in one transaction.
func (e Engine) Plan(ctx context.Context, sessionID string) (domain.StudyPlan, domain.LearningPath, error) {
	s, err := e.session(ctx, sessionID)
	if err != nil {
		return domain.StudyPlan{}, domain.LearningPath{}, err
	}
	p, err := e.Repo.GetProfile(ctx, sessionID)
	if err != nil {
		return domain.StudyPlan{}, domain.LearningPath{}, fmt.Errorf("profile: %w", err)
	}
	exam := e.exam(s.ExamCode)
	var (
		plan domain.StudyPlan
		path domain.LearningPath
		g    errgroup.Group
	)
	g.Go(func() error {
		var err error
		plan, err = planner.Build(exam, p, e.now())
		return err
	})
	g.Go(func() error {
		path = planner.Curate(e.Config, exam, p, e.now())
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.StudyPlan{}, domain.LearningPath{}, err
	}
	res := guardrails.CheckPlan(e.Config, plan)
	if err := e.gate(ctx, sessionID, s.Learner, res); err != nil {
		return domain.StudyPlan{}, domain.LearningPath{}, err
	}
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StudyPlan{}, domain.LearningPath{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SavePlan(ctx, tx, sessionID, plan, now); err != nil {
		return domain.StudyPlan{}, domain.LearningPath{}, err
	}
	if err := e.Repo.SavePath(ctx, tx, sessionID, path, now); err != nil {
		return domain.StudyPlan{}, domain.LearningPath{}, err
	}
	if err := e.Repo.InsertCheck(ctx, tx, e.checkRow(sessionID, res)); err != nil {
		return domain.StudyPlan{}, domain.LearningPath{}, err
	}
	if err := e.advanceStage(ctx, tx, s, domain.StagePlanned, now); err != nil {
		return domain.StudyPlan{}, domain.LearningPath{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypePlanCreated, sessionID, "plan", sessionID, s.Learner, events.EventPayload{
		"budget_hours":      plan.BudgetHours,
		"tasks":             len(plan.Tasks),
		"review_start_week": plan.ReviewStartWeek,
	}); err != nil {
		return domain.StudyPlan{}, domain.LearningPath{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypePathCurated, sessionID, "path", sessionID, s.Learner, events.EventPayload{
		"modules":     len(path.Modules),
		"total_hours": path.TotalHours,
	}); err != nil {
		return domain.StudyPlan{}, domain.LearningPath{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StudyPlan{}, domain.LearningPath{}, err
	}
	return plan, path, nil
}

// SnapshotOptions carry one progress check-in.
type SnapshotOptions struct {
	Week          int
	HoursSpent    float64
	SelfRatings   map[string]int
	PracticeScore *float64
	Practice      string
	Note          string
}

// Track records a progress snapshot.
func (e Engine) Track(ctx context.Context, sessionID string, opts SnapshotOptions) (domain.ProgressSnapshot, error) {
	s, err := e.session(ctx, sessionID)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	now := e.stamp()
	snap := domain.ProgressSnapshot{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Week:          opts.Week,
		HoursSpent:    opts.HoursSpent,
		SelfRatings:   opts.SelfRatings,
		PracticeScore: opts.PracticeScore,
		Practice:      domain.CoercePracticeIndicator(opts.Practice),
		Note:          opts.Note,
		CreatedAt:     now,
	}
	res := guardrails.CheckSnapshot(e.Config, snap)
	if err := e.gate(ctx, sessionID, s.Learner, res); err != nil {
		return domain.ProgressSnapshot{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSnapshot(ctx, tx, snap); err != nil {
		return domain.ProgressSnapshot{}, err
	}
	if err := e.Repo.InsertCheck(ctx, tx, e.checkRow(sessionID, res)); err != nil {
		return domain.ProgressSnapshot{}, err
	}
	if err := e.advanceStage(ctx, tx, s, domain.StageTracking, now); err != nil {
		return domain.ProgressSnapshot{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeProgressRecorded, sessionID, "snapshot", snap.ID, s.Learner, events.EventPayload{
		"week":        snap.Week,
		"hours_spent": snap.HoursSpent,
	}); err != nil {
		return domain.ProgressSnapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProgressSnapshot{}, err
	}
	return snap, nil
}

// Readiness scores the session against plan and progress. A missing
// snapshot degrades the score instead of failing.
func (e Engine) Readiness(ctx context.Context, sessionID string) (domain.ReadinessAssessment, error) {
	s, err := e.session(ctx, sessionID)
	if err != nil {
		return domain.ReadinessAssessment{}, err
	}
	p, err := e.Repo.GetProfile(ctx, sessionID)
	if err != nil {
		return domain.ReadinessAssessment{}, fmt.Errorf("profile: %w", err)
	}
	plan, err := e.Repo.GetPlan(ctx, sessionID)
	if err != nil {
		return domain.ReadinessAssessment{}, fmt.Errorf("plan: %w", err)
	}
	snap, err := e.Repo.LatestSnapshot(ctx, sessionID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.ReadinessAssessment{}, err
	}
	exam := e.exam(s.ExamCode)
	r := readiness.Score(exam, p, plan, snap, e.now())
	fields := []guardrails.Field{{Name: "go_nogo_reason", Text: r.GoNoGoReason}}
	for i, n := range r.Nudges {
		fields = append(fields, guardrails.Field{Name: fmt.Sprintf("nudge[%d]", i), Text: n.Text})
	}
	res := domain.GuardrailResult{Stage: guardrails.StageReadiness}.Merge(guardrails.CheckContent(e.Config, fields))
	if err := e.gate(ctx, sessionID, s.Learner, res); err != nil {
		return domain.ReadinessAssessment{}, err
	}
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReadinessAssessment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReadiness(ctx, tx, r); err != nil {
		return domain.ReadinessAssessment{}, err
	}
	if err := e.Repo.InsertCheck(ctx, tx, e.checkRow(sessionID, res)); err != nil {
		return domain.ReadinessAssessment{}, err
	}
	if err := e.advanceStage(ctx, tx, s, domain.StageAssessed, now); err != nil {
		return domain.ReadinessAssessment{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeReadinessAssessed, sessionID, "readiness", sessionID, s.Learner, events.EventPayload{
		"verdict":       string(r.Verdict),
		"readiness_pct": r.ReadinessPct,
	}); err != nil {
		return domain.ReadinessAssessment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReadinessAssessment{}, err
	}
	return r, nil
}

// NewQuiz generates the next practice quiz for the session. A non-positive
// count falls back to twice the configured question floor.
func (e Engine) NewQuiz(ctx context.Context, sessionID string, count int) (domain.Assessment, error) {
	s, err := e.session(ctx, sessionID)
	if err != nil {
		return domain.Assessment{}, err
	}
	if count <= 0 {
		count = 2 * e.Config.Limits.MinQuestions
	}
	seq, err := e.Repo.CountAssessments(ctx, sessionID)
	if err != nil {
		return domain.Assessment{}, err
	}
	exam := e.exam(s.ExamCode)
	a := quiz.Generate(e.Config, exam, sessionID, seq+1, count, e.now())
	res := guardrails.CheckAssessment(e.Config, a)
	if err := e.gate(ctx, sessionID, s.Learner, res); err != nil {
		return domain.Assessment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assessment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAssessment(ctx, tx, a); err != nil {
		return domain.Assessment{}, err
	}
	if err := e.Repo.InsertCheck(ctx, tx, e.checkRow(sessionID, res)); err != nil {
		return domain.Assessment{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeQuizGenerated, sessionID, "assessment", a.ID, s.Learner, events.EventPayload{
		"questions": len(a.Questions),
		"seq":       seq + 1,
	}); err != nil {
		return domain.Assessment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assessment{}, err
	}
	return a, nil
}

// Grade scores an answer sheet against a stored quiz. An empty assessmentID
// grades the latest quiz.
func (e Engine) Grade(ctx context.Context, sessionID, assessmentID string, answers []int) (domain.AssessmentResult, error) {
	s, err := e.session(ctx, sessionID)
	if err != nil {
		return domain.AssessmentResult{}, err
	}
	var a domain.Assessment
	if assessmentID == "" {
		a, err = e.Repo.LatestAssessment(ctx, sessionID)
	} else {
		a, err = e.Repo.GetAssessment(ctx, assessmentID)
	}
	if err != nil {
		return domain.AssessmentResult{}, fmt.Errorf("assessment: %w", err)
	}
	if a.SessionID != sessionID {
		return domain.AssessmentResult{}, fmt.Errorf("assessment: %w", repo.ErrNotFound)
	}
	exam := e.exam(s.ExamCode)
	result, err := quiz.Score(exam, a, answers, e.now())
	if err != nil {
		return domain.AssessmentResult{}, err
	}
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AssessmentResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertResult(ctx, tx, result); err != nil {
		return domain.AssessmentResult{}, err
	}
	if err := e.advanceStage(ctx, tx, s, domain.StageAssessed, now); err != nil {
		return domain.AssessmentResult{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeQuizScored, sessionID, "assessment", a.ID, s.Learner, events.EventPayload{
		"score_pct": result.ScorePct,
		"passed":    result.Passed,
	}); err != nil {
		return domain.AssessmentResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AssessmentResult{}, err
	}
	return result, nil
}

// Advise folds readiness and the latest quiz result into a recommendation.
func (e Engine) Advise(ctx context.Context, sessionID string) (domain.Recommendation, error) {
	s, err := e.session(ctx, sessionID)
	if err != nil {
		return domain.Recommendation{}, err
	}
	r, err := e.Repo.LatestReadiness(ctx, sessionID)
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("readiness: %w", err)
	}
	var result *domain.AssessmentResult
	if latest, err := e.Repo.LatestResult(ctx, sessionID); err == nil {
		result = &latest
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Recommendation{}, err
	}
	exam := e.exam(s.ExamCode)
	rec := advisor.Recommend(e.Config, exam, r, result, e.now())
	fields := []guardrails.Field{{Name: "reason", Text: rec.Reason}}
	for i, step := range rec.NextSteps {
		fields = append(fields, guardrails.Field{Name: fmt.Sprintf("next_steps[%d]", i), Text: step})
	}
	for i, rsc := range rec.Resources {
		fields = append(fields, guardrails.Field{Name: fmt.Sprintf("resources[%d]", i), Text: rsc.Title + " " + rsc.URL})
	}
	res := domain.GuardrailResult{Stage: guardrails.StageAdvice}.Merge(guardrails.CheckContent(e.Config, fields))
	if err := e.gate(ctx, sessionID, s.Learner, res); err != nil {
		return domain.Recommendation{}, err
	}
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Recommendation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveRecommendation(ctx, tx, sessionID, rec, now); err != nil {
		return domain.Recommendation{}, err
	}
	if err := e.Repo.InsertCheck(ctx, tx, e.checkRow(sessionID, res)); err != nil {
		return domain.Recommendation{}, err
	}
	if err := e.advanceStage(ctx, tx, s, domain.StageAdvised, now); err != nil {
		return domain.Recommendation{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeAdviceIssued, sessionID, "recommendation", sessionID, s.Learner, events.EventPayload{
		"go_nogo": rec.GoNoGo,
	}); err != nil {
		return domain.Recommendation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Recommendation{}, err
	}
	return rec, nil
}

// SessionStatus is the assembled overview for one session.
type SessionStatus struct {
	Session      domain.Session `json:"session"`
	HasIntake    bool           `json:"has_intake"`
	HasProfile   bool           `json:"has_profile"`
	HasPlan      bool           `json:"has_plan"`
	HasPath      bool           `json:"has_path"`
	Snapshots    int            `json:"snapshots"`
	Quizzes      int            `json:"quizzes"`
	ReadinessPct float64        `json:"readiness_pct,omitempty"`
	Verdict      string         `json:"verdict,omitempty"`
	LastScorePct float64        `json:"last_score_pct,omitempty"`
	LastPassed   bool           `json:"last_passed,omitempty"`
	GoNoGo       string         `json:"go_nogo,omitempty"`
}

// Status reports which artifacts exist and the latest headline numbers.
func (e Engine) Status(ctx context.Context, sessionID string) (SessionStatus, error) {
	s, err := e.session(ctx, sessionID)
	if err != nil {
		return SessionStatus{}, err
	}
	st := SessionStatus{Session: s}
	if _, err := e.Repo.GetIntake(ctx, sessionID); err == nil {
		st.HasIntake = true
	}
	if _, err := e.Repo.GetProfile(ctx, sessionID); err == nil {
		st.HasProfile = true
	}
	if _, err := e.Repo.GetPlan(ctx, sessionID); err == nil {
		st.HasPlan = true
	}
	if _, err := e.Repo.GetPath(ctx, sessionID); err == nil {
		st.HasPath = true
	}
	if n, err := e.Repo.CountSnapshots(ctx, sessionID); err == nil {
		st.Snapshots = n
	}
	if n, err := e.Repo.CountAssessments(ctx, sessionID); err == nil {
		st.Quizzes = n
	}
	if r, err := e.Repo.LatestReadiness(ctx, sessionID); err == nil {
		st.ReadinessPct = r.ReadinessPct
		st.Verdict = string(r.Verdict)
	}
	if res, err := e.Repo.LatestResult(ctx, sessionID); err == nil {
		st.LastScorePct = res.ScorePct
		st.LastPassed = res.Passed
	}
	if rec, err := e.Repo.GetRecommendation(ctx, sessionID); err == nil {
		st.GoNoGo = rec.GoNoGo
	}
	return st, nil
}

// Checks returns the guardrail history for a session, newest first.
func (e Engine) Checks(ctx context.Context, sessionID string, limit int) ([]domain.Check, error) {
	if _, err := e.session(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.Repo.ListChecks(ctx, sessionID, limit)
}
