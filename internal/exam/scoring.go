package exam

import (
	"encoding/json"
	"math"
	"strings"
)

const (
	// Provisional FR credit is capped at 60% of possible points until an
	// instructor grades the question.
	frProvisionalCap = 0.6
	// A free-response sub-answer counts as answered once its trimmed
	// length exceeds this threshold.
	frMinAnswerLength = 10
)

type QuestionScore struct {
	Key                string  `json:"key"`
	Type               string  `json:"type"`
	PointsPossible     float64 `json:"points_possible"`
	PointsEarned       float64 `json:"points_earned"`
	Answered           bool    `json:"answered"`
	IsCorrect          *bool   `json:"is_correct,omitempty"`
	SubParts           int     `json:"sub_parts,omitempty"`
	AnsweredSubParts   int     `json:"answered_sub_parts,omitempty"`
	NeedsManualGrading bool    `json:"needs_manual_grading,omitempty"`
}

type SectionScore struct {
	SectionID    string          `json:"section_id"`
	TotalPoints  float64         `json:"total_points"`
	EarnedPoints float64         `json:"earned_points"`
	Count        int             `json:"count"`
	Questions    []QuestionScore `json:"questions"`
}

type BucketScore struct {
	TotalPoints  float64 `json:"total_points"`
	EarnedPoints float64 `json:"earned_points"`
	Count        int     `json:"count"`
	Percentage   float64 `json:"percentage"`
}

type Breakdown struct {
	MultipleChoice BucketScore             `json:"multiple_choice"`
	FreeResponse   BucketScore             `json:"free_response"`
	Sections       map[string]SectionScore `json:"sections"`
}

type ExamScore struct {
	Percentage   float64   `json:"percentage"`
	PointsEarned float64   `json:"points_earned"`
	TotalPoints  float64   `json:"total_points"`
	Breakdown    Breakdown `json:"breakdown"`
}

// ScoreMultipleChoiceSection grades one MC section against the answer key.
// Correctness is strict equality with the key; a missing answer is simply
// incorrect. No partial credit.
func ScoreMultipleChoiceSection(questions []MCQuestion, answers Answers, sectionIndex int) SectionScore {
	out := SectionScore{
		SectionID: sectionIDForIndex(sectionIndex),
		Count:     len(questions),
		Questions: make([]QuestionScore, 0, len(questions)),
	}

	for i, q := range questions {
		points := q.PointsPossible()
		out.TotalPoints += points

		qs := QuestionScore{
			Key:            QuestionKey(sectionIndex, i),
			Type:           "multiple_choice",
			PointsPossible: points,
		}

		raw, ok := answers[qs.Key]
		if ok && len(raw) > 0 && string(raw) != "null" {
			qs.Answered = true
			correct := answerEquals(raw, q.CorrectAnswer)
			qs.IsCorrect = &correct
			if correct {
				qs.PointsEarned = points
				out.EarnedPoints += points
			}
		} else {
			incorrect := false
			qs.IsCorrect = &incorrect
		}

		out.Questions = append(out.Questions, qs)
	}

	return out
}

// ScoreFreeResponseSection assigns provisional credit to one FR section:
// the share of sub-parts carrying a substantive answer, scaled by the
// question's points and capped at 60%. Every result needs manual grading.
func ScoreFreeResponseSection(questions []FRQuestion, answers Answers, sectionIndex int) SectionScore {
	out := SectionScore{
		SectionID: sectionIDForIndex(sectionIndex),
		Count:     len(questions),
		Questions: make([]QuestionScore, 0, len(questions)),
	}

	for i, q := range questions {
		points := q.PointsPossible()
		subParts := q.SubPartCount()
		out.TotalPoints += points

		key := QuestionKey(sectionIndex, i)
		answered := answeredSubParts(answers[key])
		if answered > subParts {
			answered = subParts
		}

		earned := 0.0
		if subParts > 0 {
			earned = math.Round(float64(answered) / float64(subParts) * points * frProvisionalCap)
		}
		out.EarnedPoints += earned

		out.Questions = append(out.Questions, QuestionScore{
			Key:                key,
			Type:               "free_response",
			PointsPossible:     points,
			PointsEarned:       earned,
			Answered:           answered > 0,
			SubParts:           subParts,
			AnsweredSubParts:   answered,
			NeedsManualGrading: true,
		})
	}

	return out
}

// CalculateExamScore runs all four sections and aggregates global,
// per-bucket, and per-section totals. Pure and deterministic; a nil or
// empty content yields a zero-value score.
func CalculateExamScore(content *Content, answers Answers) ExamScore {
	score := ExamScore{
		Breakdown: Breakdown{Sections: make(map[string]SectionScore)},
	}
	if content == nil {
		return score
	}

	mcSections := []SectionScore{
		ScoreMultipleChoiceSection(content.MultipleChoice.PartA, answers, 0),
		ScoreMultipleChoiceSection(content.MultipleChoice.PartB, answers, 1),
	}
	frSections := []SectionScore{
		ScoreFreeResponseSection(content.FreeResponse.PartA, answers, 2),
		ScoreFreeResponseSection(content.FreeResponse.PartB, answers, 3),
	}

	for _, s := range mcSections {
		score.Breakdown.MultipleChoice.TotalPoints += s.TotalPoints
		score.Breakdown.MultipleChoice.EarnedPoints += s.EarnedPoints
		score.Breakdown.MultipleChoice.Count += s.Count
		score.Breakdown.Sections[s.SectionID] = s
	}
	for _, s := range frSections {
		score.Breakdown.FreeResponse.TotalPoints += s.TotalPoints
		score.Breakdown.FreeResponse.EarnedPoints += s.EarnedPoints
		score.Breakdown.FreeResponse.Count += s.Count
		score.Breakdown.Sections[s.SectionID] = s
	}

	score.Breakdown.MultipleChoice.Percentage = percentage(
		score.Breakdown.MultipleChoice.EarnedPoints, score.Breakdown.MultipleChoice.TotalPoints)
	score.Breakdown.FreeResponse.Percentage = percentage(
		score.Breakdown.FreeResponse.EarnedPoints, score.Breakdown.FreeResponse.TotalPoints)

	score.TotalPoints = score.Breakdown.MultipleChoice.TotalPoints + score.Breakdown.FreeResponse.TotalPoints
	score.PointsEarned = score.Breakdown.MultipleChoice.EarnedPoints + score.Breakdown.FreeResponse.EarnedPoints
	score.Percentage = percentage(score.PointsEarned, score.TotalPoints)

	return score
}

// CalculateTotalPoints sums the exam's point values the same way scoring
// does. Falls back to 100 so a zero-point draft cannot break percentage
// math downstream.
func CalculateTotalPoints(content *Content) float64 {
	if content == nil {
		return 100
	}
	total := 0.0
	for _, q := range content.MultipleChoice.PartA {
		total += q.PointsPossible()
	}
	for _, q := range content.MultipleChoice.PartB {
		total += q.PointsPossible()
	}
	for _, q := range content.FreeResponse.PartA {
		total += q.PointsPossible()
	}
	for _, q := range content.FreeResponse.PartB {
		total += q.PointsPossible()
	}
	if total == 0 {
		return 100
	}
	return total
}

// Default bucket weights, used when an exam is configured with neither.
const (
	DefaultMCWeight = 0.6
	DefaultFRWeight = 0.4
)

// NormalizeWeights substitutes the default 0.6/0.4 split when both weights
// are unset. Configured weights are taken as-is and are not renormalized,
// even when one bucket is empty.
func NormalizeWeights(mcWeight, frWeight float64) (float64, float64) {
	if mcWeight <= 0 && frWeight <= 0 {
		return DefaultMCWeight, DefaultFRWeight
	}
	if mcWeight < 0 {
		mcWeight = 0
	}
	if frWeight < 0 {
		frWeight = 0
	}
	return mcWeight, frWeight
}

// FinalWeightedScore combines the auto-graded MC percentage and the
// manually graded FR percentage as a straight weighted sum.
func FinalWeightedScore(mcPercentage, frPercentage, mcWeight, frWeight float64) float64 {
	mcW, frW := NormalizeWeights(mcWeight, frWeight)
	return mcPercentage*mcW + frPercentage*frW
}

func percentage(earned, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(earned / total * 100)
}

// answerEquals compares a submitted answer with the answer key after JSON
// decoding, so `0` matches `0` and `"B"` matches `"B"` regardless of raw
// JSON formatting. The decoded values themselves are compared strictly:
// `" B "` does not match `"B"`. Mismatched or undecodable values are
// incorrect, never an error.
func answerEquals(submitted, correct json.RawMessage) bool {
	var sv, cv interface{}
	if err := json.Unmarshal(submitted, &sv); err != nil {
		return false
	}
	if err := json.Unmarshal(correct, &cv); err != nil {
		return false
	}

	switch c := cv.(type) {
	case float64:
		s, ok := sv.(float64)
		return ok && s == c
	case string:
		s, ok := sv.(string)
		return ok && s == c
	case bool:
		s, ok := sv.(bool)
		return ok && s == c
	default:
		return false
	}
}

// answeredSubParts counts the substantive pieces of an FR answer. The value
// may be a single string or an array of per-sub-part strings; anything else
// counts as unanswered.
func answeredSubParts(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if len(strings.TrimSpace(single)) > frMinAnswerLength {
			return 1
		}
		return 0
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return 0
	}
	n := 0
	for _, s := range many {
		if len(strings.TrimSpace(s)) > frMinAnswerLength {
			n++
		}
	}
	return n
}
