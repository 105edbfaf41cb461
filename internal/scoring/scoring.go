// Package scoring turns graded answers and test-case results into marks.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/noah-isme/codequest-api/internal/models"
)

// Aggregation selects which coding attempt counts towards a submission total.
type Aggregation string

// Supported aggregation policies.
const (
	AggregateLatest Aggregation = "latest"
	AggregateBest   Aggregation = "best"
)

// ParseAggregation validates a policy name. Empty selects AggregateLatest.
func ParseAggregation(value string) (Aggregation, error) {
	switch Aggregation(strings.ToLower(strings.TrimSpace(value))) {
	case "", AggregateLatest:
		return AggregateLatest, nil
	case AggregateBest:
		return AggregateBest, nil
	default:
		return "", fmt.Errorf("unknown coding aggregation %q", value)
	}
}

// CalculateMarks returns round(passed/total*100); every test case carries
// the same weight.
func CalculateMarks(results []models.TestCaseResult) int {
	if len(results) == 0 {
		return 0
	}
	passed := 0
	for _, result := range results {
		if result.Passed {
			passed++
		}
	}
	return int(math.Round(float64(passed) / float64(len(results)) * 100))
}

// ScaleMarks converts a 0-100 mark into the challenge's own mark allocation.
func ScaleMarks(marks, challengeMarks int) int {
	if challengeMarks <= 0 {
		return 0
	}
	return int(math.Round(float64(marks) * float64(challengeMarks) / 100))
}

// AttemptStatus classifies an attempt from its results.
func AttemptStatus(results []models.TestCaseResult) string {
	if len(results) == 0 {
		return models.AttemptStatusWrongAnswer
	}
	passed := 0
	for _, result := range results {
		switch result.Status {
		case models.AttemptStatusTimeout:
			return models.AttemptStatusTimeout
		case models.AttemptStatusError:
			return models.AttemptStatusError
		}
		if result.Passed {
			passed++
		}
	}
	switch {
	case passed == len(results):
		return models.AttemptStatusAccepted
	case passed > 0:
		return models.AttemptStatusPartial
	default:
		return models.AttemptStatusWrongAnswer
	}
}

// OutputsMatch compares program output with the expected output, ignoring
// trailing whitespace on each line and trailing blank lines.
func OutputsMatch(actual, expected string) bool {
	return normalizeOutput(actual) == normalizeOutput(expected)
}

func normalizeOutput(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")
	lines := strings.Split(value, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// MCQAnswerInput is an ungraded answer.
type MCQAnswerInput struct {
	QuestionID      uint
	SelectedOptions []int
}

// GradeMCQ grades answers against the test's MCQs. An answer is correct only
// when the selected set equals the correct set. Answers to unknown questions
// are dropped; a later answer to the same question replaces an earlier one.
func GradeMCQ(mcqs []models.MCQ, answers []MCQAnswerInput) ([]models.MCQAnswer, int) {
	byID := make(map[uint]models.MCQ, len(mcqs))
	for _, mcq := range mcqs {
		byID[mcq.ID] = mcq
	}

	order := make([]uint, 0, len(answers))
	graded := make(map[uint]models.MCQAnswer, len(answers))
	for _, answer := range answers {
		mcq, ok := byID[answer.QuestionID]
		if !ok {
			continue
		}
		selected := uniqueSorted(answer.SelectedOptions)
		correct := sameSet(selected, uniqueSorted(mcq.CorrectOptions))
		marks := 0
		if correct {
			marks = mcq.Marks
		}
		if _, seen := graded[answer.QuestionID]; !seen {
			order = append(order, answer.QuestionID)
		}
		graded[answer.QuestionID] = models.MCQAnswer{
			QuestionID:      answer.QuestionID,
			SelectedOptions: selected,
			IsCorrect:       correct,
			MarksObtained:   marks,
		}
	}

	result := make([]models.MCQAnswer, 0, len(order))
	total := 0
	for _, id := range order {
		answer := graded[id]
		total += answer.MarksObtained
		result = append(result, answer)
	}
	return result, total
}

// CodingScore sums one attempt score per challenge, chosen by the policy.
func CodingScore(attempts []models.CodingAttempt, policy Aggregation) int {
	chosen := SelectAttempts(attempts, policy)
	total := 0
	for _, attempt := range chosen {
		total += attempt.Score
	}
	return total
}

// SelectAttempts returns the counted attempt for each challenge.
func SelectAttempts(attempts []models.CodingAttempt, policy Aggregation) map[uint]models.CodingAttempt {
	chosen := make(map[uint]models.CodingAttempt)
	for _, attempt := range attempts {
		current, ok := chosen[attempt.ChallengeID]
		if !ok {
			chosen[attempt.ChallengeID] = attempt
			continue
		}
		switch policy {
		case AggregateBest:
			if attempt.Score > current.Score {
				chosen[attempt.ChallengeID] = attempt
			}
		default:
			if isLater(attempt, current) {
				chosen[attempt.ChallengeID] = attempt
			}
		}
	}
	return chosen
}

func isLater(candidate, current models.CodingAttempt) bool {
	if candidate.CreatedAt.Equal(current.CreatedAt) {
		return candidate.ID > current.ID
	}
	return candidate.CreatedAt.After(current.CreatedAt)
}

// Percentage returns score as a percentage of total rounded to two decimals.
func Percentage(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(score)/float64(total)*10000) / 100
}

// CertificateType returns passed when the score reaches the passing marks.
func CertificateType(score, passingMarks int) string {
	if score >= passingMarks {
		return models.CertificateTypePassed
	}
	return models.CertificateTypeParticipation
}

func uniqueSorted(values []int) []int {
	seen := make(map[int]struct{}, len(values))
	result := make([]int, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	sort.Ints(result)
	return result
}

func sameSet(a, b []int) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
