package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"prepline/internal/domain"
	"prepline/internal/restore"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// exec routes a write through tx when one is open, the pool otherwise.
func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.DB.ExecContext(ctx, query, args...)
}

// Sessions

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	_, err := r.exec(ctx, tx, `INSERT INTO sessions(id,learner,exam_code,stage,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.Learner, s.ExamCode, s.Stage, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var s domain.Session
	err := r.DB.QueryRowContext(ctx, `SELECT id,learner,exam_code,stage,created_at,updated_at FROM sessions WHERE id=?`, id).
		Scan(&s.ID, &s.Learner, &s.ExamCode, &s.Stage, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,learner,exam_code,stage,created_at,updated_at FROM sessions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.Learner, &s.ExamCode, &s.Stage, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SingleSession resolves the implicit session for CLI use: exactly one must exist.
func (r Repo) SingleSession(ctx context.Context) (domain.Session, error) {
	sessions, err := r.ListSessions(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if len(sessions) == 0 {
		return domain.Session{}, ErrNotFound
	}
	if len(sessions) > 1 {
		return domain.Session{}, fmt.Errorf("multiple sessions exist; specify --session")
	}
	return sessions[0], nil
}

func (r Repo) UpdateSessionStage(ctx context.Context, tx *sql.Tx, id, stage, now string) error {
	res, err := r.exec(ctx, tx, `UPDATE sessions SET stage=?, updated_at=? WHERE id=?`, stage, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSession(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stage documents. Each pipeline stage persists one JSON document per
// session; rereads go through restore so rows written by older builds
// (or hand-edited ones) never fail decoding on extra keys.

func (r Repo) saveDoc(ctx context.Context, tx *sql.Tx, table, sessionID string, v any, now string) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, tx, `INSERT INTO `+table+`(session_id,payload_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(session_id) DO UPDATE SET payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		sessionID, string(payload), now, now)
	return err
}

func getDoc[T any](ctx context.Context, r Repo, table, sessionID string) (T, error) {
	var zero T
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM `+table+` WHERE session_id=?`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	return restore.Entity[T]([]byte(payload))
}

func (r Repo) SaveIntake(ctx context.Context, tx *sql.Tx, sessionID string, in domain.Intake, now string) error {
	return r.saveDoc(ctx, tx, "intakes", sessionID, in, now)
}

func (r Repo) GetIntake(ctx context.Context, sessionID string) (domain.Intake, error) {
	return getDoc[domain.Intake](ctx, r, "intakes", sessionID)
}

func (r Repo) SaveProfile(ctx context.Context, tx *sql.Tx, sessionID string, p domain.LearnerProfile, now string) error {
	return r.saveDoc(ctx, tx, "profiles", sessionID, p, now)
}

func (r Repo) GetProfile(ctx context.Context, sessionID string) (domain.LearnerProfile, error) {
	return getDoc[domain.LearnerProfile](ctx, r, "profiles", sessionID)
}

func (r Repo) SavePlan(ctx context.Context, tx *sql.Tx, sessionID string, p domain.StudyPlan, now string) error {
	return r.saveDoc(ctx, tx, "plans", sessionID, p, now)
}

func (r Repo) GetPlan(ctx context.Context, sessionID string) (domain.StudyPlan, error) {
	return getDoc[domain.StudyPlan](ctx, r, "plans", sessionID)
}

func (r Repo) SavePath(ctx context.Context, tx *sql.Tx, sessionID string, p domain.LearningPath, now string) error {
	return r.saveDoc(ctx, tx, "paths", sessionID, p, now)
}

func (r Repo) GetPath(ctx context.Context, sessionID string) (domain.LearningPath, error) {
	return getDoc[domain.LearningPath](ctx, r, "paths", sessionID)
}

func (r Repo) SaveRecommendation(ctx context.Context, tx *sql.Tx, sessionID string, rec domain.Recommendation, now string) error {
	return r.saveDoc(ctx, tx, "recommendations", sessionID, rec, now)
}

func (r Repo) GetRecommendation(ctx context.Context, sessionID string) (domain.Recommendation, error) {
	return getDoc[domain.Recommendation](ctx, r, "recommendations", sessionID)
}

// Progress snapshots append; readiness wants the full history in week order.

func (r Repo) InsertSnapshot(ctx context.Context, tx *sql.Tx, snap domain.ProgressSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, tx, `INSERT INTO snapshots(id,session_id,week,payload_json,created_at) VALUES (?,?,?,?,?)`,
		snap.ID, snap.SessionID, snap.Week, string(payload), snap.CreatedAt)
	return err
}

func (r Repo) ListSnapshots(ctx context.Context, sessionID string) ([]domain.ProgressSnapshot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT payload_json FROM snapshots WHERE session_id=? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProgressSnapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		snap, err := restore.Entity[domain.ProgressSnapshot]([]byte(payload))
		if err != nil {
			return nil, err
		}
		res = append(res, snap)
	}
	return res, rows.Err()
}

func (r Repo) CountSnapshots(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE session_id=?`, sessionID).Scan(&n)
	return n, err
}

func (r Repo) LatestSnapshot(ctx context.Context, sessionID string) (domain.ProgressSnapshot, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM snapshots WHERE session_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.ProgressSnapshot{}, ErrNotFound
	}
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	return restore.Entity[domain.ProgressSnapshot]([]byte(payload))
}

// Readiness rows append so the verdict history survives reassessment.

func (r Repo) InsertReadiness(ctx context.Context, tx *sql.Tx, rdy domain.ReadinessAssessment) error {
	payload, err := json.Marshal(rdy)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, tx, `INSERT INTO readiness(session_id,verdict,payload_json,created_at) VALUES (?,?,?,?)`,
		rdy.SessionID, string(rdy.Verdict), string(payload), rdy.CreatedAt)
	return err
}

func (r Repo) LatestReadiness(ctx context.Context, sessionID string) (domain.ReadinessAssessment, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM readiness WHERE session_id=? ORDER BY id DESC LIMIT 1`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.ReadinessAssessment{}, ErrNotFound
	}
	if err != nil {
		return domain.ReadinessAssessment{}, err
	}
	return restore.Entity[domain.ReadinessAssessment]([]byte(payload))
}

// Assessments and results

func (r Repo) InsertAssessment(ctx context.Context, tx *sql.Tx, a domain.Assessment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, tx, `INSERT INTO assessments(id,session_id,payload_json,created_at) VALUES (?,?,?,?)`,
		a.ID, a.SessionID, string(payload), a.CreatedAt)
	return err
}

func (r Repo) GetAssessment(ctx context.Context, id string) (domain.Assessment, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM assessments WHERE id=?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.Assessment{}, ErrNotFound
	}
	if err != nil {
		return domain.Assessment{}, err
	}
	return restore.Entity[domain.Assessment]([]byte(payload))
}

func (r Repo) LatestAssessment(ctx context.Context, sessionID string) (domain.Assessment, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM assessments WHERE session_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.Assessment{}, ErrNotFound
	}
	if err != nil {
		return domain.Assessment{}, err
	}
	return restore.Entity[domain.Assessment]([]byte(payload))
}

// CountAssessments feeds the sequence number for the next quiz.
func (r Repo) CountAssessments(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM assessments WHERE session_id=?`, sessionID).Scan(&n)
	return n, err
}

func (r Repo) InsertResult(ctx context.Context, tx *sql.Tx, res domain.AssessmentResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, tx, `INSERT INTO results(session_id,assessment_id,score_pct,passed,payload_json,created_at) VALUES (?,?,?,?,?,?)`,
		res.SessionID, res.AssessmentID, res.ScorePct, res.Passed, string(payload), res.CreatedAt)
	return err
}

func (r Repo) LatestResult(ctx context.Context, sessionID string) (domain.AssessmentResult, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM results WHERE session_id=? ORDER BY id DESC LIMIT 1`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.AssessmentResult{}, ErrNotFound
	}
	if err != nil {
		return domain.AssessmentResult{}, err
	}
	return restore.Entity[domain.AssessmentResult]([]byte(payload))
}

// Guardrail checks

func (r Repo) InsertCheck(ctx context.Context, tx *sql.Tx, c domain.Check) error {
	violations, err := json.Marshal(c.Violations)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, tx, `INSERT INTO checks(session_id,stage,blocked,violations_json,created_at) VALUES (?,?,?,?,?)`,
		c.SessionID, c.Stage, c.Blocked, string(violations), c.CreatedAt)
	return err
}

func (r Repo) ListChecks(ctx context.Context, sessionID string, limit int) ([]domain.Check, error) {
	query := `SELECT id,session_id,stage,blocked,violations_json,created_at FROM checks WHERE session_id=? ORDER BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Check
	for rows.Next() {
		var c domain.Check
		var violations string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Stage, &c.Blocked, &violations, &c.CreatedAt); err != nil {
			return nil, err
		}
		if violations != "" {
			if err := json.Unmarshal([]byte(violations), &c.Violations); err != nil {
				return nil, err
			}
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// Events

func (r Repo) LatestEvents(ctx context.Context, limit int, sessionID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, sessionID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, sessionID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if sessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, sessionID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(session_id,''),entity_kind,COALESCE(entity_id,''),COALESCE(actor_id,''),payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, sessionID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if sessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, sessionID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(session_id,''),entity_kind,COALESCE(entity_id,''),COALESCE(actor_id,''),payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SessionID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, scoped to a session when
// sessionID is non-empty.
func (r Repo) LatestEventID(ctx context.Context, sessionID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id=?`
		args = append(args, sessionID)
	}
	row := r.DB.QueryRowContext(ctx, query, args...)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
