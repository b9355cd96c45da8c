package preplinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Prepline HTTP API client.
type Client struct {
	BaseURL     string
	SessionID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. SessionID may be empty until
// CreateSession has been called.
func New(baseURL, sessionID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SessionID: sessionID,
		Timeout:   10 * time.Second,
	}
}

// IntakeRequest is the learner intake submitted to create a session.
type IntakeRequest struct {
	Name           string   `json:"name"`
	Email          string   `json:"email,omitempty"`
	ExamCode       string   `json:"exam_code,omitempty"`
	Background     string   `json:"background,omitempty"`
	Experience     string   `json:"experience,omitempty"`
	Style          string   `json:"style,omitempty"`
	HoursPerWeek   float64  `json:"hours_per_week"`
	TotalWeeks     int      `json:"total_weeks"`
	Certifications []string `json:"certifications,omitempty"`
}

// ProgressRequest records one week of study.
type ProgressRequest struct {
	Week          int            `json:"week"`
	HoursSpent    float64        `json:"hours_spent"`
	SelfRatings   map[string]int `json:"self_ratings,omitempty"`
	PracticeScore *float64       `json:"practice_score,omitempty"`
	Practice      string         `json:"practice,omitempty"`
	Note          string         `json:"note,omitempty"`
}

// Session represents the API session model.
type Session struct {
	ID        string `json:"id"`
	Learner   string `json:"learner"`
	ExamCode  string `json:"exam_code"`
	Stage     string `json:"stage"`
	CreatedAt string `json:"created_at"`
}

// DomainProfile is one domain's assessed standing (partial).
type DomainProfile struct {
	DomainID   string  `json:"domain_id"`
	Knowledge  string  `json:"knowledge"`
	Confidence float64 `json:"confidence"`
	Skip       bool    `json:"skip,omitempty"`
}

// Profile represents the learner profile (partial).
type Profile struct {
	SessionID      string          `json:"session_id"`
	BudgetHours    float64         `json:"budget_hours"`
	Domains        []DomainProfile `json:"domains"`
	RiskDomains    []string        `json:"risk_domains,omitempty"`
	Recommendation string          `json:"recommendation,omitempty"`
}

// PlanTask is one scheduled block of study hours.
type PlanTask struct {
	DomainID   string  `json:"domain_id"`
	DomainName string  `json:"domain_name"`
	Priority   string  `json:"priority"`
	Hours      float64 `json:"hours"`
	StartWeek  int     `json:"start_week"`
	EndWeek    int     `json:"end_week"`
	Note       string  `json:"note,omitempty"`
}

// Plan represents the study plan (partial).
type Plan struct {
	SessionID       string     `json:"session_id"`
	ExamCode        string     `json:"exam_code"`
	TotalWeeks      int        `json:"total_weeks"`
	HoursPerWeek    float64    `json:"hours_per_week"`
	BudgetHours     float64    `json:"budget_hours"`
	Tasks           []PlanTask `json:"tasks"`
	ReviewStartWeek int        `json:"review_start_week"`
	Summary         string     `json:"summary"`
}

// PathModule is one curated study module.
type PathModule struct {
	Name     string  `json:"name"`
	DomainID string  `json:"domain_id"`
	URL      string  `json:"url,omitempty"`
	Level    string  `json:"level"`
	Hours    float64 `json:"hours"`
}

// Path represents the curated learning path.
type Path struct {
	SessionID  string       `json:"session_id"`
	ExamCode   string       `json:"exam_code"`
	Modules    []PathModule `json:"modules"`
	TotalHours float64      `json:"total_hours"`
	Summary    string       `json:"summary"`
}

// PlanWithPath is the response of BuildPlan.
type PlanWithPath struct {
	Plan Plan `json:"plan"`
	Path Path `json:"path"`
}

// Snapshot represents a recorded progress week (partial).
type Snapshot struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	Week       int     `json:"week"`
	HoursSpent float64 `json:"hours_spent"`
	Practice   string  `json:"practice"`
	CreatedAt  string  `json:"created_at"`
}

// Nudge is one readiness suggestion.
type Nudge struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Readiness represents a readiness assessment (partial).
type Readiness struct {
	SessionID    string  `json:"session_id"`
	ReadinessPct float64 `json:"readiness_pct"`
	Verdict      string  `json:"verdict"`
	Nudges       []Nudge `json:"nudges"`
	GoNoGoReason string  `json:"go_nogo_reason"`
}

// QuizQuestion is a question as served to clients, without the answer key.
type QuizQuestion struct {
	ID         string   `json:"id"`
	DomainID   string   `json:"domain_id"`
	DomainName string   `json:"domain_name,omitempty"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
}

// Quiz represents a generated practice quiz.
type Quiz struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	ExamCode  string         `json:"exam_code"`
	Questions []QuizQuestion `json:"questions"`
	CreatedAt string         `json:"created_at"`
}

// QuestionFeedback explains one graded answer.
type QuestionFeedback struct {
	QuestionID   string `json:"question_id"`
	Selected     int    `json:"selected"`
	CorrectIndex int    `json:"correct_index"`
	Correct      bool   `json:"correct"`
	Explanation  string `json:"explanation,omitempty"`
}

// QuizResult represents a graded answer sheet.
type QuizResult struct {
	AssessmentID string             `json:"assessment_id"`
	SessionID    string             `json:"session_id"`
	Correct      int                `json:"correct"`
	Total        int                `json:"total"`
	ScorePct     float64            `json:"score_pct"`
	Passed       bool               `json:"passed"`
	DomainPct    map[string]float64 `json:"domain_pct"`
	Feedback     []QuestionFeedback `json:"feedback"`
}

// Resource points at study material.
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Recommendation represents the final advice.
type Recommendation struct {
	SessionID string     `json:"session_id"`
	GoNoGo    string     `json:"go_nogo"`
	Reason    string     `json:"reason"`
	NextSteps []string   `json:"next_steps"`
	Resources []Resource `json:"resources,omitempty"`
	NextExam  string     `json:"next_exam,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateSession submits the intake and starts a session. The returned id must
// be set on the client before session-scoped calls.
func (c *Client) CreateSession(ctx context.Context, in IntakeRequest) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "v0/sessions", in, &resp)
	return resp, err
}

// BuildProfile runs the profiler over the stored intake.
func (c *Client) BuildProfile(ctx context.Context) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodPost, c.sessionPath("profile"), nil, &resp)
	return resp, err
}

// BuildPlan builds the study plan and learning path.
func (c *Client) BuildPlan(ctx context.Context) (PlanWithPath, error) {
	var resp PlanWithPath
	err := c.do(ctx, http.MethodPost, c.sessionPath("plan"), nil, &resp)
	return resp, err
}

// RecordProgress records one week of study.
func (c *Client) RecordProgress(ctx context.Context, in ProgressRequest) (Snapshot, error) {
	var resp Snapshot
	err := c.do(ctx, http.MethodPost, c.sessionPath("progress"), in, &resp)
	return resp, err
}

// Readiness assesses exam readiness from the artifacts so far.
func (c *Client) Readiness(ctx context.Context) (Readiness, error) {
	var resp Readiness
	err := c.do(ctx, http.MethodPost, c.sessionPath("readiness"), nil, &resp)
	return resp, err
}

// NewQuiz generates a practice quiz; count 0 uses the server default.
func (c *Client) NewQuiz(ctx context.Context, count int) (Quiz, error) {
	endpoint := c.sessionPath("quizzes")
	if count > 0 {
		endpoint = fmt.Sprintf("%s?count=%d", endpoint, count)
	}
	var resp Quiz
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SubmitAnswers grades an answer sheet against a quiz.
func (c *Client) SubmitAnswers(ctx context.Context, quizID string, answers []int) (QuizResult, error) {
	body := map[string]any{"answers": answers}
	var resp QuizResult
	endpoint := c.sessionPath(fmt.Sprintf("quizzes/%s/answers", url.PathEscape(quizID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Advice produces the final go/no-go recommendation.
func (c *Client) Advice(ctx context.Context) (Recommendation, error) {
	var resp Recommendation
	err := c.do(ctx, http.MethodPost, c.sessionPath("advice"), nil, &resp)
	return resp, err
}

// Events returns recent events for the session.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.sessionPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) sessionPath(p string) string {
	session := url.PathEscape(c.SessionID)
	return fmt.Sprintf("v0/sessions/%s/%s", session, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
