package profiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"prepline/internal/config"
	"prepline/internal/domain"
	"prepline/internal/restore"
)

// ErrMissingAPIKey is returned by NewGemini when no key is configured in the
// environment.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY not set")

const defaultModel = "gemini-2.0-flash"

// Gemini profiles through the Gemini API. Replies are decoded through the
// serialization safety layer and then clamped to the exam's registry, so a
// chatty or stale model response degrades instead of corrupting the profile.
type Gemini struct {
	Client *genai.Client
	Model  string
}

func NewGemini(ctx context.Context, cfg *config.Config) (*Gemini, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: key,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := cfg.LLM.Model
	if model == "" {
		model = defaultModel
	}
	return &Gemini{Client: client, Model: model}, nil
}

func (g *Gemini) Profile(ctx context.Context, in domain.Intake, exam domain.Exam) (domain.LearnerProfile, error) {
	prompt, err := buildPrompt(in, exam)
	if err != nil {
		return domain.LearnerProfile{}, err
	}
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := g.Client.Models.GenerateContent(ctx, g.Model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return domain.LearnerProfile{}, fmt.Errorf("gemini profile: %w", err)
	}
	p, err := restore.Entity[domain.LearnerProfile]([]byte(stripFences(resp.Text())))
	if err != nil {
		return domain.LearnerProfile{}, fmt.Errorf("decode gemini profile: %w", err)
	}
	return clampProfile(p, in, exam), nil
}

func buildPrompt(in domain.Intake, exam domain.Exam) (string, error) {
	intakeJSON, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode intake: %w", err)
	}
	var domains strings.Builder
	for _, d := range exam.Domains {
		fmt.Fprintf(&domains, "- id: %s, name: %s, exam weight: %.2f. %s\n", d.ID, d.Name, d.Weight, d.Description)
	}
	return fmt.Sprintf(`You assess how prepared a learner is to study for the %s certification (%s).

Learner intake:
%s

Exam domains (use exactly these ids):
%s
Return ONLY a JSON object of this shape:
{"domains":[{"domain_id":"","knowledge":"unknown|weak|moderate|strong","confidence":0.0,"skip":false,"note":""}],"risk_domains":[""],"skip_modules":[],"analogies":{"domain-id":""},"recommendation":""}

Rules: one entry per exam domain. confidence is 0 to 1. Mark skip only where the learner is clearly strong. List a domain in risk_domains when they need extra attention. Write one analogy per domain suited to a %q learning style, and a single-sentence recommendation.`,
		exam.Name, strings.ToUpper(exam.Code), intakeJSON, domains.String(), in.Style), nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON in
// one despite the response MIME type.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// clampProfile forces a model reply back onto the exam registry: unknown
// domain ids are dropped, missing domains fall back to the heuristic row,
// confidence is clamped into [0,1] and the budget is recomputed from intake.
func clampProfile(p domain.LearnerProfile, in domain.Intake, exam domain.Exam) domain.LearnerProfile {
	base := heuristicProfile(in, exam)

	valid := make(map[string]bool, len(exam.Domains))
	for _, d := range exam.Domains {
		valid[d.ID] = true
	}
	fromModel := make(map[string]domain.DomainProfile, len(p.Domains))
	for _, dp := range p.Domains {
		if valid[dp.DomainID] {
			if _, dup := fromModel[dp.DomainID]; !dup {
				fromModel[dp.DomainID] = dp
			}
		}
	}

	out := domain.LearnerProfile{
		Intake:         in,
		BudgetHours:    in.HoursPerWeek * float64(in.TotalWeeks),
		SkipModules:    p.SkipModules,
		Analogies:      make(map[string]string, len(exam.Domains)),
		Recommendation: strings.TrimSpace(p.Recommendation),
	}
	for i, d := range exam.Domains {
		dp, ok := fromModel[d.ID]
		if !ok {
			dp = base.Domains[i]
		}
		dp.DomainID = d.ID
		dp.Knowledge = domain.CoerceKnowledgeLevel(string(dp.Knowledge))
		dp.Confidence = clamp01(dp.Confidence)
		out.Domains = append(out.Domains, dp)

		if a := strings.TrimSpace(p.Analogies[d.ID]); a != "" {
			out.Analogies[d.ID] = a
		} else {
			out.Analogies[d.ID] = base.Analogies[d.ID]
		}
	}

	seen := make(map[string]bool)
	for _, id := range p.RiskDomains {
		if valid[id] && !seen[id] {
			out.RiskDomains = append(out.RiskDomains, id)
			seen[id] = true
		}
	}
	if out.Recommendation == "" {
		out.Recommendation = base.Recommendation
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
