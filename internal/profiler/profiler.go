// Package profiler builds a LearnerProfile from a raw intake. The default
// implementation is rule-based and fully deterministic; a Gemini-backed one
// lives alongside it for richer profiles. Either way the profile gate runs
// on the output, so implementations stay permissive.
package profiler

import (
	"context"
	"fmt"
	"strings"

	"prepline/internal/domain"
)

type Profiler interface {
	Profile(ctx context.Context, in domain.Intake, exam domain.Exam) (domain.LearnerProfile, error)
}

// Heuristic profiles without any external service.
type Heuristic struct{}

func (Heuristic) Profile(_ context.Context, in domain.Intake, exam domain.Exam) (domain.LearnerProfile, error) {
	return heuristicProfile(in, exam), nil
}

func heuristicProfile(in domain.Intake, exam domain.Exam) domain.LearnerProfile {
	p := domain.LearnerProfile{
		Intake:      in,
		BudgetHours: in.HoursPerWeek * float64(in.TotalWeeks),
		Analogies:   make(map[string]string, len(exam.Domains)),
	}
	background := strings.ToLower(in.Background)
	hasPrereq := exam.Prerequisite == "" || holdsCert(in.Certifications, exam.Prerequisite)

	for _, d := range exam.Domains {
		level := baseLevel(in.Experience)
		mentioned := mentions(background, d)
		if mentioned {
			level = raise(level)
		}
		conf := confidenceFor(level)
		if hasPrereq && exam.Prerequisite != "" {
			conf += 0.05
		}

		dp := domain.DomainProfile{
			DomainID:   d.ID,
			Knowledge:  level,
			Confidence: conf,
		}
		if mentioned {
			dp.Note = "background mentions this area"
		}
		if level == domain.KnowledgeStrong && conf >= 0.80 {
			dp.Skip = true
		}
		if conf < 0.50 {
			p.RiskDomains = append(p.RiskDomains, d.ID)
		}
		p.Domains = append(p.Domains, dp)
		p.Analogies[d.ID] = analogy(in.Style, d.Name)
	}

	p.Recommendation = recommendation(exam, p)
	return p
}

func baseLevel(e domain.ExperienceLevel) domain.KnowledgeLevel {
	switch domain.CoerceExperienceLevel(string(e)) {
	case domain.ExperienceAdvanced:
		return domain.KnowledgeModerate
	case domain.ExperienceIntermediate:
		return domain.KnowledgeWeak
	default:
		return domain.KnowledgeUnknown
	}
}

func raise(k domain.KnowledgeLevel) domain.KnowledgeLevel {
	switch k {
	case domain.KnowledgeUnknown:
		return domain.KnowledgeWeak
	case domain.KnowledgeWeak:
		return domain.KnowledgeModerate
	default:
		return domain.KnowledgeStrong
	}
}

func confidenceFor(k domain.KnowledgeLevel) float64 {
	switch k {
	case domain.KnowledgeStrong:
		return 0.80
	case domain.KnowledgeModerate:
		return 0.60
	case domain.KnowledgeWeak:
		return 0.40
	default:
		return 0.20
	}
}

// Tokens that appear across the whole catalog and say nothing about one
// domain in particular.
var stopTokens = map[string]bool{
	"azure":     true,
	"microsoft": true,
	"common":    true,
	"core":      true,
}

// mentions reports whether the background text names the domain. Tokens come
// from the domain id and description; names are mostly catalog verbs and are
// ignored, as are short glue words.
func mentions(background string, d domain.Domain) bool {
	if background == "" {
		return false
	}
	for _, tok := range domainTokens(d) {
		if strings.Contains(background, tok) {
			return true
		}
	}
	return false
}

func domainTokens(d domain.Domain) []string {
	var toks []string
	add := func(s string) {
		for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return r == ' ' || r == '-' || r == ',' || r == '/'
		}) {
			if len(f) >= 4 && !stopTokens[f] {
				toks = append(toks, f)
			}
		}
	}
	add(d.ID)
	add(d.Description)
	return toks
}

func analogy(style domain.LearningStyle, name string) string {
	switch domain.CoerceLearningStyle(string(style)) {
	case domain.StyleVisual:
		return fmt.Sprintf("Sketch %s as a city map: zones, roads and gates.", name)
	case domain.StyleReading:
		return fmt.Sprintf("Condense %s into a one-page cheat sheet in your own words.", name)
	case domain.StyleHandsOn:
		return fmt.Sprintf("Spin up a sandbox and walk through %s by hand.", name)
	default:
		return fmt.Sprintf("Alternate notes, diagrams and labs while covering %s.", name)
	}
}

func recommendation(exam domain.Exam, p domain.LearnerProfile) string {
	if len(p.RiskDomains) == 0 {
		return fmt.Sprintf("Solid base for %s; keep a steady pace and verify with a practice quiz early.", exam.Code)
	}
	return fmt.Sprintf("Front-load the %d risk domain(s) for %s and bank the %.0f budgeted hours early.",
		len(p.RiskDomains), exam.Code, p.BudgetHours)
}

func holdsCert(certs []string, code string) bool {
	for _, c := range certs {
		if strings.EqualFold(strings.TrimSpace(c), code) {
			return true
		}
	}
	return false
}
