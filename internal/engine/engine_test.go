package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"prepline/internal/config"
	"prepline/internal/db"
	"prepline/internal/domain"
	"prepline/internal/engine"
	"prepline/internal/migrate"
	"prepline/internal/planner"
	"prepline/internal/quiz"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func testIntake() domain.Intake {
	return domain.Intake{
		Name:         "Ada Brook",
		ExamCode:     "az-900",
		Background:   "two years on a help desk with some cloud exposure",
		Experience:   domain.ExperienceBeginner,
		Style:        domain.StyleMixed,
		HoursPerWeek: 8,
		TotalWeeks:   6,
	}
}

func seedSession(t *testing.T, env testEnv) domain.Session {
	t.Helper()
	s, err := env.Engine.Intake(env.Ctx, engine.IntakeOptions{Intake: testIntake(), ActorID: "cli"})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	return s
}

func TestPipelineEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	s := seedSession(t, env)
	if s.Stage != domain.StageIntake {
		t.Fatalf("stage after intake = %s", s.Stage)
	}

	p, err := env.Engine.Profile(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if len(p.Domains) != 3 {
		t.Fatalf("expected 3 profiled domains, got %d", len(p.Domains))
	}

	plan, path, err := env.Engine.Plan(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.BudgetHours != 48 {
		t.Fatalf("budget = %.1f, want 48", plan.BudgetHours)
	}
	if len(path.Modules) == 0 {
		t.Fatalf("expected curated modules")
	}

	snap, err := env.Engine.Track(env.Ctx, s.ID, engine.SnapshotOptions{
		Week:        2,
		HoursSpent:  10,
		SelfRatings: map[string]int{"cloud-concepts": 4},
		Practice:    "some",
	})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if snap.Practice != domain.PracticeSome {
		t.Fatalf("practice = %s", snap.Practice)
	}

	r, err := env.Engine.Readiness(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("readiness: %v", err)
	}
	if r.ReadinessPct <= 0 || r.ReadinessPct > 100 {
		t.Fatalf("readiness pct = %.2f", r.ReadinessPct)
	}
	if r.GoNoGoReason == "" {
		t.Fatalf("expected go/no-go reason")
	}

	a, err := env.Engine.NewQuiz(env.Ctx, s.ID, 8)
	if err != nil {
		t.Fatalf("quiz: %v", err)
	}
	if len(a.Questions) != 8 {
		t.Fatalf("questions = %d", len(a.Questions))
	}

	answers := make([]int, len(a.Questions))
	for i, q := range a.Questions {
		answers[i] = q.CorrectIndex
	}
	result, err := env.Engine.Grade(env.Ctx, s.ID, a.ID, answers)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if result.ScorePct != 100 || !result.Passed {
		t.Fatalf("perfect sheet scored %.1f passed=%v", result.ScorePct, result.Passed)
	}

	rec, err := env.Engine.Advise(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("advise: %v", err)
	}
	switch rec.GoNoGo {
	case "go", "almost", "no-go":
	default:
		t.Fatalf("unexpected go_nogo %q", rec.GoNoGo)
	}
	if rec.Reason == "" || len(rec.NextSteps) == 0 {
		t.Fatalf("expected reason and next steps")
	}

	final, err := env.Engine.Repo.GetSession(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if final.Stage != domain.StageAdvised {
		t.Fatalf("final stage = %s", final.Stage)
	}

	var eventCount int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM events WHERE session_id=?`, s.ID).Scan(&eventCount); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 9 {
		t.Fatalf("expected 9 events, got %d", eventCount)
	}

	checks, err := env.Engine.Checks(env.Ctx, s.ID, 0)
	if err != nil {
		t.Fatalf("checks: %v", err)
	}
	if len(checks) != 7 {
		t.Fatalf("expected 7 check rows, got %d", len(checks))
	}
	for _, c := range checks {
		if c.Blocked {
			t.Fatalf("stage %s unexpectedly blocked", c.Stage)
		}
	}

	st, err := env.Engine.Status(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.HasIntake || !st.HasProfile || !st.HasPlan || !st.HasPath {
		t.Fatalf("status missing artifacts: %+v", st)
	}
	if st.Snapshots != 1 || st.Quizzes != 1 || st.GoNoGo == "" {
		t.Fatalf("status counters: %+v", st)
	}
}

func TestIntakeGateBlocksAndPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	in := testIntake()
	in.Name = ""
	_, err := env.Engine.Intake(env.Ctx, engine.IntakeOptions{Intake: in, ActorID: "cli"})
	var gateErr *engine.GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("expected GateError, got %v", err)
	}
	if gateErr.Stage != "intake" || !gateErr.Result.Blocked() {
		t.Fatalf("unexpected gate error: %+v", gateErr)
	}

	sessions, err := env.Engine.Repo.ListSessions(env.Ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("blocked intake still created a session")
	}

	var blocked int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM checks WHERE blocked=1`).Scan(&blocked); err != nil {
		t.Fatalf("count checks: %v", err)
	}
	if blocked != 1 {
		t.Fatalf("expected 1 blocked check row, got %d", blocked)
	}
	var gateEvents int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM events WHERE type='gate.blocked'`).Scan(&gateEvents); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if gateEvents != 1 {
		t.Fatalf("expected 1 gate.blocked event, got %d", gateEvents)
	}
}

func TestSnapshotGateBlocksBadRating(t *testing.T) {
	env := newTestEnv(t)
	s := seedSession(t, env)
	_, err := env.Engine.Track(env.Ctx, s.ID, engine.SnapshotOptions{
		Week:        1,
		HoursSpent:  4,
		SelfRatings: map[string]int{"cloud-concepts": 9},
	})
	var gateErr *engine.GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("expected GateError, got %v", err)
	}
	var snaps int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&snaps); err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	if snaps != 0 {
		t.Fatalf("blocked snapshot was persisted")
	}
}

func TestPlanMatchesSequentialComposition(t *testing.T) {
	env := newTestEnv(t)
	s := seedSession(t, env)
	if _, err := env.Engine.Profile(env.Ctx, s.ID); err != nil {
		t.Fatalf("profile: %v", err)
	}
	plan, path, err := env.Engine.Plan(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	p, err := env.Engine.Repo.GetProfile(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	exam, ok := env.Engine.Config.Exam("az-900")
	if !ok {
		t.Fatalf("az-900 missing from catalog")
	}
	now := env.Engine.Now()
	wantPlan, err := planner.Build(exam, p, now)
	if err != nil {
		t.Fatalf("sequential build: %v", err)
	}
	wantPath := planner.Curate(env.Engine.Config, exam, p, now)
	if !reflect.DeepEqual(plan, wantPlan) {
		t.Fatalf("concurrent plan diverged from sequential build")
	}
	if !reflect.DeepEqual(path, wantPath) {
		t.Fatalf("concurrent path diverged from sequential curation")
	}
}

func TestPlanRerunOverwritesInPlace(t *testing.T) {
	env := newTestEnv(t)
	s := seedSession(t, env)
	if _, err := env.Engine.Profile(env.Ctx, s.ID); err != nil {
		t.Fatalf("profile: %v", err)
	}
	first, firstPath, err := env.Engine.Plan(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	second, secondPath, err := env.Engine.Plan(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("replan: %v", err)
	}
	if !reflect.DeepEqual(first, second) || !reflect.DeepEqual(firstPath, secondPath) {
		t.Fatal("replanning the same session changed the artifacts")
	}
	var rows int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM plans WHERE session_id = ?`, s.ID).Scan(&rows); err != nil {
		t.Fatalf("count plans: %v", err)
	}
	if rows != 1 {
		t.Fatalf("plans rows = %d, want the single row overwritten", rows)
	}
}

func TestReadinessWithoutSnapshot(t *testing.T) {
	env := newTestEnv(t)
	s := seedSession(t, env)
	if _, err := env.Engine.Profile(env.Ctx, s.ID); err != nil {
		t.Fatalf("profile: %v", err)
	}
	if _, _, err := env.Engine.Plan(env.Ctx, s.ID); err != nil {
		t.Fatalf("plan: %v", err)
	}
	r, err := env.Engine.Readiness(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("readiness: %v", err)
	}
	if r.HoursComponent != 0 {
		t.Fatalf("hours component without snapshot = %.2f", r.HoursComponent)
	}
	if r.Verdict != domain.VerdictNotReady && r.Verdict != domain.VerdictNeedsWork {
		t.Fatalf("verdict with no progress = %s", r.Verdict)
	}
}

func TestReadinessRequiresPlan(t *testing.T) {
	env := newTestEnv(t)
	s := seedSession(t, env)
	if _, err := env.Engine.Profile(env.Ctx, s.ID); err != nil {
		t.Fatalf("profile: %v", err)
	}
	_, err := env.Engine.Readiness(env.Ctx, s.ID)
	if err == nil {
		t.Fatalf("expected missing plan error")
	}
}

func TestGradeAnswerCountMismatch(t *testing.T) {
	env := newTestEnv(t)
	s := seedSession(t, env)
	a, err := env.Engine.NewQuiz(env.Ctx, s.ID, 8)
	if err != nil {
		t.Fatalf("quiz: %v", err)
	}
	_, err = env.Engine.Grade(env.Ctx, s.ID, a.ID, []int{0, 1, 2})
	var countErr *quiz.AnswerCountError
	if !errors.As(err, &countErr) {
		t.Fatalf("expected AnswerCountError, got %v", err)
	}
	if countErr.Got != 3 || countErr.Want != 8 {
		t.Fatalf("mismatch detail: %+v", countErr)
	}
	var results int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM results`).Scan(&results); err != nil {
		t.Fatalf("count results: %v", err)
	}
	if results != 0 {
		t.Fatalf("mismatched sheet still persisted a result")
	}
}

func TestGradeLatestQuizWhenIDOmitted(t *testing.T) {
	env := newTestEnv(t)
	s := seedSession(t, env)
	if _, err := env.Engine.NewQuiz(env.Ctx, s.ID, 8); err != nil {
		t.Fatalf("quiz: %v", err)
	}
	result, err := env.Engine.Grade(env.Ctx, s.ID, "", make([]int, 8))
	if err != nil {
		t.Fatalf("grade latest: %v", err)
	}
	if result.Total != 8 {
		t.Fatalf("graded %d answers", result.Total)
	}
}

func TestUnknownExamFallsBackToDefault(t *testing.T) {
	env := newTestEnv(t)
	in := testIntake()
	in.ExamCode = "zz-999"
	s, err := env.Engine.Intake(env.Ctx, engine.IntakeOptions{Intake: in, ActorID: "cli"})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	p, err := env.Engine.Profile(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if len(p.Domains) != 3 {
		t.Fatalf("fallback exam should profile 3 domains, got %d", len(p.Domains))
	}
}

func TestStageNeverRegresses(t *testing.T) {
	env := newTestEnv(t)
	s := seedSession(t, env)
	if _, err := env.Engine.Profile(env.Ctx, s.ID); err != nil {
		t.Fatalf("profile: %v", err)
	}
	if _, _, err := env.Engine.Plan(env.Ctx, s.ID); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, err := env.Engine.Readiness(env.Ctx, s.ID); err != nil {
		t.Fatalf("readiness: %v", err)
	}
	// rerunning an earlier stage keeps the furthest stage reached
	if _, err := env.Engine.Track(env.Ctx, s.ID, engine.SnapshotOptions{Week: 1, HoursSpent: 2}); err != nil {
		t.Fatalf("track: %v", err)
	}
	got, err := env.Engine.Repo.GetSession(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Stage != domain.StageAssessed {
		t.Fatalf("stage regressed to %s", got.Stage)
	}
}

func TestStoredRowsTolerateUnknownKeys(t *testing.T) {
	env := newTestEnv(t)
	s := seedSession(t, env)
	if _, err := env.Engine.Profile(env.Ctx, s.ID); err != nil {
		t.Fatalf("profile: %v", err)
	}

	var payload string
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT payload_json FROM profiles WHERE session_id=?`, s.ID).Scan(&payload); err != nil {
		t.Fatalf("read profile row: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m["quality_score"] = 0.97
	m["engine_metadata"] = map[string]any{"model": "offline"}
	if intake, ok := m["intake"].(map[string]any); ok {
		intake["source"] = "imported"
	}
	edited, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE profiles SET payload_json=? WHERE session_id=?`, string(edited), s.ID); err != nil {
		t.Fatalf("rewrite row: %v", err)
	}

	p, err := env.Engine.Repo.GetProfile(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("profile with extra keys should decode: %v", err)
	}
	if p.SessionID != s.ID || len(p.Domains) != 3 {
		t.Fatalf("known fields lost: %+v", p)
	}
	if _, _, err := env.Engine.Plan(env.Ctx, s.ID); err != nil {
		t.Fatalf("plan over tolerated row: %v", err)
	}
}

func TestRepeatQuizzesGetDistinctIDs(t *testing.T) {
	env := newTestEnv(t)
	s := seedSession(t, env)
	first, err := env.Engine.NewQuiz(env.Ctx, s.ID, 6)
	if err != nil {
		t.Fatalf("first quiz: %v", err)
	}
	second, err := env.Engine.NewQuiz(env.Ctx, s.ID, 6)
	if err != nil {
		t.Fatalf("second quiz: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("repeat quiz reused assessment id %s", first.ID)
	}
	if len(first.Questions) != len(second.Questions) {
		t.Fatalf("question counts diverged")
	}
}

func TestRepeatIntakesCreateDistinctSessions(t *testing.T) {
	env := newTestEnv(t)
	first := seedSession(t, env)
	second, err := env.Engine.Intake(env.Ctx, engine.IntakeOptions{Intake: testIntake(), ActorID: "cli"})
	if err != nil {
		t.Fatalf("second intake with the same learner and exam: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("repeat intake reused session id %s", first.ID)
	}
	sessions, err := env.Engine.Repo.ListSessions(env.Ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
}

func TestRepeatSnapshotsGetDistinctIDs(t *testing.T) {
	env := newTestEnv(t)
	s := seedSession(t, env)
	opts := engine.SnapshotOptions{Week: 2, HoursSpent: 10}
	first, err := env.Engine.Track(env.Ctx, s.ID, opts)
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	second, err := env.Engine.Track(env.Ctx, s.ID, opts)
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("repeat snapshot reused id %s", first.ID)
	}
	snaps, err := env.Engine.Repo.ListSnapshots(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
}
