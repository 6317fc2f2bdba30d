package exam

import (
	"encoding/json"
	"testing"
)

func TestScoreMultipleChoiceSection(t *testing.T) {
	questions := []MCQuestion{
		{Prompt: "q1", Choices: []string{"A", "B", "C", "D"}, CorrectAnswer: json.RawMessage(`"B"`)},
		{Prompt: "q2", Choices: []string{"A", "B", "C", "D"}, CorrectAnswer: json.RawMessage(`2`), Points: 2},
		{Prompt: "q3", Choices: []string{"true", "false"}, CorrectAnswer: json.RawMessage(`true`)},
	}

	tests := []struct {
		name       string
		answers    Answers
		earned     float64
		correct    []bool
		unanswered []bool
	}{
		{
			name: "all correct",
			answers: Answers{
				"0-0": json.RawMessage(`"B"`),
				"0-1": json.RawMessage(`2`),
				"0-2": json.RawMessage(`true`),
			},
			earned:  4,
			correct: []bool{true, true, true},
		},
		{
			name: "strict equality no partial credit",
			answers: Answers{
				"0-0": json.RawMessage(`"b"`),
				"0-1": json.RawMessage(`"2"`),
				"0-2": json.RawMessage(`true`),
			},
			earned:  1,
			correct: []bool{false, false, true},
		},
		{
			name: "missing and null answers are incorrect not errors",
			answers: Answers{
				"0-0": json.RawMessage(`null`),
			},
			earned:     0,
			correct:    []bool{false, false, false},
			unanswered: []bool{true, true, true},
		},
		{
			name: "surrounding whitespace is not forgiven",
			answers: Answers{
				"0-0": json.RawMessage(`" B "`),
			},
			earned:  0,
			correct: []bool{false, false, false},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreMultipleChoiceSection(questions, tc.answers, 0)

			if got.SectionID != SectionMCPartA {
				t.Fatalf("section id = %q, want %q", got.SectionID, SectionMCPartA)
			}
			if got.TotalPoints != 4 {
				t.Fatalf("total points = %v, want 4", got.TotalPoints)
			}
			if got.EarnedPoints != tc.earned {
				t.Fatalf("earned points = %v, want %v", got.EarnedPoints, tc.earned)
			}
			for i, q := range got.Questions {
				if q.IsCorrect == nil {
					t.Fatalf("question %d: is_correct is nil", i)
				}
				if *q.IsCorrect != tc.correct[i] {
					t.Errorf("question %d: is_correct = %v, want %v", i, *q.IsCorrect, tc.correct[i])
				}
				if len(tc.unanswered) > 0 && q.Answered == tc.unanswered[i] {
					t.Errorf("question %d: answered = %v", i, q.Answered)
				}
			}
		})
	}
}

func TestScoreFreeResponseSection_ProvisionalCredit(t *testing.T) {
	longAnswer := `"this answer is clearly longer than ten characters"`
	shortAnswer := `"too short"`

	questions := []FRQuestion{
		{
			Prompt: "essay with sub-parts",
			Parts: []FRPart{
				{SubParts: []FRSubPart{{Points: 4}, {Points: 4}}},
				{SubParts: []FRSubPart{{Points: 2}}},
			},
		},
		{Prompt: "flat essay", TotalPoints: 10},
		{Prompt: "default points essay"},
	}

	answers := Answers{
		// 2 of 3 sub-parts answered: round(2/3 * 10 * 0.6) = 4.
		"2-0": json.RawMessage(`[` + longAnswer + `,"no",` + longAnswer + `]`),
		// Single substantive answer: round(1/1 * 10 * 0.6) = 6.
		"2-1": json.RawMessage(longAnswer),
		// Short answer carries no provisional credit.
		"2-2": json.RawMessage(shortAnswer),
	}

	got := ScoreFreeResponseSection(questions, answers, 2)

	if got.SectionID != SectionFRPartA {
		t.Fatalf("section id = %q, want %q", got.SectionID, SectionFRPartA)
	}
	if got.TotalPoints != 26 {
		t.Fatalf("total points = %v, want 26", got.TotalPoints)
	}

	wantEarned := []float64{4, 6, 0}
	for i, q := range got.Questions {
		if q.PointsEarned != wantEarned[i] {
			t.Errorf("question %d: earned = %v, want %v", i, q.PointsEarned, wantEarned[i])
		}
		if !q.NeedsManualGrading {
			t.Errorf("question %d: provisional FR score must need manual grading", i)
		}
	}
	if got.EarnedPoints != 10 {
		t.Fatalf("earned points = %v, want 10", got.EarnedPoints)
	}

	// Provisional credit never exceeds the 60% cap.
	full := Answers{
		"2-0": json.RawMessage(`[` + longAnswer + `,` + longAnswer + `,` + longAnswer + `]`),
		"2-1": json.RawMessage(longAnswer),
		"2-2": json.RawMessage(longAnswer),
	}
	capped := ScoreFreeResponseSection(questions, full, 2)
	for i, q := range capped.Questions {
		if q.PointsEarned > q.PointsPossible*frProvisionalCap+0.5 {
			t.Errorf("question %d: earned %v exceeds provisional cap for %v points", i, q.PointsEarned, q.PointsPossible)
		}
	}
}

func TestCalculateExamScore(t *testing.T) {
	content := &Content{
		MultipleChoice: MCSectionPair{
			PartA: []MCQuestion{
				{Choices: []string{"A", "B"}, CorrectAnswer: json.RawMessage(`"A"`)},
				{Choices: []string{"A", "B"}, CorrectAnswer: json.RawMessage(`"B"`)},
			},
			PartB: []MCQuestion{
				{Choices: []string{"A", "B"}, CorrectAnswer: json.RawMessage(`"A"`), Points: 2},
			},
		},
		FreeResponse: FRSectionPair{
			PartA: []FRQuestion{{TotalPoints: 6}},
		},
	}
	answers := Answers{
		"0-0": json.RawMessage(`"A"`),
		"0-1": json.RawMessage(`"A"`),
		"1-0": json.RawMessage(`"A"`),
		"2-0": json.RawMessage(`"a substantive essay answer for this question"`),
	}

	got := CalculateExamScore(content, answers)

	if got.TotalPoints != 10 {
		t.Fatalf("total points = %v, want 10", got.TotalPoints)
	}
	// MC: 1 + 2 of 4 points. FR: round(1/1 * 6 * 0.6) = 4.
	if got.Breakdown.MultipleChoice.EarnedPoints != 3 {
		t.Fatalf("mc earned = %v, want 3", got.Breakdown.MultipleChoice.EarnedPoints)
	}
	if got.Breakdown.FreeResponse.EarnedPoints != 4 {
		t.Fatalf("fr earned = %v, want 4", got.Breakdown.FreeResponse.EarnedPoints)
	}
	if got.PointsEarned != 7 {
		t.Fatalf("earned = %v, want 7", got.PointsEarned)
	}
	if got.Percentage != 70 {
		t.Fatalf("percentage = %v, want 70", got.Percentage)
	}
	if got.Breakdown.MultipleChoice.Percentage != 75 {
		t.Fatalf("mc percentage = %v, want 75", got.Breakdown.MultipleChoice.Percentage)
	}
	if len(got.Breakdown.Sections) != 4 {
		t.Fatalf("sections = %d, want 4", len(got.Breakdown.Sections))
	}
	if got.Breakdown.Sections[SectionFRPartB].Count != 0 {
		t.Fatalf("empty section should carry zero questions")
	}
}

func TestCalculateExamScore_Deterministic(t *testing.T) {
	content := &Content{
		MultipleChoice: MCSectionPair{
			PartA: []MCQuestion{
				{Choices: []string{"A", "B"}, CorrectAnswer: json.RawMessage(`"A"`)},
				{Choices: []string{"A", "B"}, CorrectAnswer: json.RawMessage(`"B"`)},
			},
		},
		FreeResponse: FRSectionPair{
			PartB: []FRQuestion{{TotalPoints: 8}},
		},
	}
	answers := Answers{
		"0-0": json.RawMessage(`"A"`),
		"3-0": json.RawMessage(`"an answer long enough to count as substantive"`),
	}

	first := CalculateExamScore(content, answers)
	for i := 0; i < 10; i++ {
		again := CalculateExamScore(content, answers)
		if again.Percentage != first.Percentage || again.PointsEarned != first.PointsEarned {
			t.Fatalf("run %d: score changed: %+v vs %+v", i, again, first)
		}
	}
}

func TestCalculateExamScore_EmptyAndNilContent(t *testing.T) {
	zero := CalculateExamScore(nil, Answers{})
	if zero.Percentage != 0 || zero.TotalPoints != 0 {
		t.Fatalf("nil content should score zero, got %+v", zero)
	}

	empty := CalculateExamScore(&Content{}, Answers{"0-0": json.RawMessage(`"A"`)})
	if empty.Percentage != 0 {
		t.Fatalf("empty content percentage = %v, want 0", empty.Percentage)
	}
}

func TestCalculateTotalPoints(t *testing.T) {
	if got := CalculateTotalPoints(nil); got != 100 {
		t.Fatalf("nil content = %v, want fallback 100", got)
	}
	if got := CalculateTotalPoints(&Content{}); got != 100 {
		t.Fatalf("empty content = %v, want fallback 100", got)
	}

	content := &Content{
		MultipleChoice: MCSectionPair{
			PartA: []MCQuestion{{}, {Points: 3}},
		},
		FreeResponse: FRSectionPair{
			PartA: []FRQuestion{{}},
		},
	}
	// 1 + 3 + default 6.
	if got := CalculateTotalPoints(content); got != 10 {
		t.Fatalf("total = %v, want 10", got)
	}
}

func TestFinalWeightedScore(t *testing.T) {
	tests := []struct {
		name     string
		mcPct    float64
		frPct    float64
		mcWeight float64
		frWeight float64
		want     float64
	}{
		{name: "default weights", mcPct: 80, frPct: 50, want: 68},
		{name: "explicit weights kept as-is", mcPct: 100, frPct: 0, mcWeight: 0.7, frWeight: 0.3, want: 70},
		{name: "mc only exam with default weights", mcPct: 90, frPct: 0, want: 54},
		{name: "weights not renormalized when one is zero", mcPct: 100, frPct: 100, mcWeight: 0.5, frWeight: 0, want: 50},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FinalWeightedScore(tc.mcPct, tc.frPct, tc.mcWeight, tc.frWeight)
			if got != tc.want {
				t.Fatalf("final = %v, want %v", got, tc.want)
			}
		})
	}
}
