// Package quiz generates practice assessments from the catalog and scores
// submitted answers. Generation is deterministic: the same session, exam and
// question count always produce the same assessment, question ids included.
package quiz

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"prepline/internal/alloc"
	"prepline/internal/config"
	"prepline/internal/domain"
)

const optionCount = 4

// AnswerCountError reports an answer sheet that does not line up with the
// assessment. It is a caller contract violation, never silently truncated.
type AnswerCountError struct {
	Got  int
	Want int
}

func (e *AnswerCountError) Error() string {
	return fmt.Sprintf("answer sheet has %d entries for %d questions", e.Got, e.Want)
}

// Generate builds an assessment of count questions spread across the exam's
// domains in proportion to their weights. Bank questions from the catalog are
// used first; the remainder is synthesized from module titles. seq is the
// session's assessment ordinal and keeps repeat quizzes distinct.
func Generate(cfg *config.Config, exam domain.Exam, sessionID string, seq, count int, now time.Time) domain.Assessment {
	a := domain.Assessment{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID+"|quiz|"+fmt.Sprint(seq))).String(),
		SessionID: sessionID,
		ExamCode:  exam.Code,
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
	if count <= 0 {
		return a
	}

	buckets := make([]alloc.Bucket, 0, len(exam.Domains))
	for _, d := range exam.Domains {
		buckets = append(buckets, alloc.Bucket{Key: d.ID, Weight: d.Weight})
	}
	counts, err := alloc.Counts(count, buckets)
	if err != nil || len(counts) == 0 {
		// registry weights are validated non-negative; an empty domain
		// list just yields an empty quiz
		return a
	}

	bank := make(map[string][]config.QuestionConfig)
	for _, q := range cfg.QuestionsFor(exam.Code) {
		if len(q.Options) == optionCount {
			bank[q.Domain] = append(bank[q.Domain], q)
		}
	}
	own, others := moduleTitles(cfg, exam)

	for _, d := range exam.Domains {
		for ordinal := 0; ordinal < counts[d.ID]; ordinal++ {
			id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID+"|"+exam.Code+"|"+d.ID+"|"+fmt.Sprint(ordinal))).String()
			q := domain.QuizQuestion{ID: id, DomainID: d.ID, DomainName: d.Name}
			if ordinal < len(bank[d.ID]) {
				b := bank[d.ID][ordinal]
				q.Prompt = b.Prompt
				q.Options = append([]string(nil), b.Options...)
				q.CorrectIndex = b.Answer
				q.Explanation = b.Explanation
			} else {
				synthesize(&q, d, exam, ordinal, own[d.ID], others[d.ID])
			}
			a.Questions = append(a.Questions, q)
		}
	}
	return a
}

// moduleTitles splits catalog module names into the ones belonging to each
// domain and the pool of everyone else's, both in catalog order.
func moduleTitles(cfg *config.Config, exam domain.Exam) (own, others map[string][]string) {
	own = make(map[string][]string, len(exam.Domains))
	others = make(map[string][]string, len(exam.Domains))
	mods := cfg.ModulesFor(exam.Code)
	for _, d := range exam.Domains {
		for _, m := range mods {
			if m.DomainID == d.ID {
				own[d.ID] = append(own[d.ID], m.Name)
			} else {
				others[d.ID] = append(others[d.ID], m.Name)
			}
		}
	}
	return own, others
}

func synthesize(q *domain.QuizQuestion, d domain.Domain, exam domain.Exam, ordinal int, own, others []string) {
	correct := d.Name + " essentials"
	if len(own) > 0 {
		correct = own[ordinal%len(own)]
	}
	topic := strings.ToLower(d.Name)
	if d.Description != "" {
		topic = strings.ToLower(d.Description)
	}
	q.Prompt = fmt.Sprintf("Which study module covers %s on the %s exam?", topic, strings.ToUpper(exam.Code))
	q.Explanation = fmt.Sprintf("%q belongs to the %s domain.", correct, d.Name)
	q.CorrectIndex = ordinal % optionCount

	q.Options = make([]string, optionCount)
	pick := 0
	for i := 0; i < optionCount; i++ {
		if i == q.CorrectIndex {
			q.Options[i] = correct
			continue
		}
		q.Options[i] = distractor(others, exam, ordinal*(optionCount-1)+pick)
		pick++
	}
}

// distractor picks a wrong option. Three consecutive indices into a pool of
// at least three other-domain modules stay distinct after the modulo.
func distractor(others []string, exam domain.Exam, n int) string {
	if len(others) >= optionCount-1 {
		return others[n%len(others)]
	}
	return fmt.Sprintf("General %s review, part %d", exam.Name, n%(optionCount-1)+1)
}

// Score grades a submitted answer sheet against the assessment. Out-of-range
// selections count as wrong; a length mismatch is an error.
func Score(exam domain.Exam, a domain.Assessment, answers []int, now time.Time) (domain.AssessmentResult, error) {
	if len(answers) != len(a.Questions) {
		return domain.AssessmentResult{}, &AnswerCountError{Got: len(answers), Want: len(a.Questions)}
	}

	res := domain.AssessmentResult{
		AssessmentID: a.ID,
		SessionID:    a.SessionID,
		Total:        len(a.Questions),
		DomainPct:    make(map[string]float64, len(exam.Domains)),
		CreatedAt:    now.UTC().Format(time.RFC3339),
	}

	domainTotal := make(map[string]int)
	domainCorrect := make(map[string]int)
	for i, q := range a.Questions {
		correct := answers[i] == q.CorrectIndex
		if correct {
			res.Correct++
			domainCorrect[q.DomainID]++
		}
		domainTotal[q.DomainID]++
		res.Feedback = append(res.Feedback, domain.QuestionFeedback{
			QuestionID:   q.ID,
			Selected:     answers[i],
			CorrectIndex: q.CorrectIndex,
			Correct:      correct,
			Explanation:  q.Explanation,
		})
	}

	if res.Total > 0 {
		res.ScorePct = round2(100 * float64(res.Correct) / float64(res.Total))
	}
	res.Passed = res.ScorePct >= domain.PassScorePct

	for _, d := range exam.Domains {
		if domainTotal[d.ID] == 0 {
			res.DomainPct[d.ID] = 0
			continue
		}
		res.DomainPct[d.ID] = round2(100 * float64(domainCorrect[d.ID]) / float64(domainTotal[d.ID]))
	}
	// questions can outlive a registry edit; keep their domains scored too
	for id, total := range domainTotal {
		if _, ok := res.DomainPct[id]; !ok && total > 0 {
			res.DomainPct[id] = round2(100 * float64(domainCorrect[id]) / float64(total))
		}
	}
	return res, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
