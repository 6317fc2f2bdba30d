package exam

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseContent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		count   int
	}{
		{name: "empty input is a draft", raw: "", count: 0},
		{name: "null input is a draft", raw: "null", count: 0},
		{name: "empty object", raw: "{}", count: 0},
		{
			name: "full structure",
			raw: `{
				"multiple_choice": {
					"part_a": [{"prompt":"p","choices":["A","B"],"correct_answer":"A"}],
					"part_b": [{"prompt":"p","choices":["A","B"],"correct_answer":1,"points":2}]
				},
				"free_response": {
					"part_a": [{"prompt":"essay","total_points":10}],
					"part_b": []
				}
			}`,
			count: 3,
		},
		{
			name:  "unknown fields are tolerated",
			raw:   `{"version":2,"multiple_choice":{"part_a":[{"prompt":"p","choices":["A","B"],"correct_answer":"A","explanation":"why"}]}}`,
			count: 1,
		},
		{name: "invalid json", raw: `{"multiple_choice":`, wantErr: true},
		{
			name:    "negative mc points",
			raw:     `{"multiple_choice":{"part_a":[{"prompt":"p","choices":["A","B"],"correct_answer":"A","points":-1}]}}`,
			wantErr: true,
		},
		{
			name:    "negative fr sub-part points",
			raw:     `{"free_response":{"part_a":[{"prompt":"e","parts":[{"sub_parts":[{"points":-2}]}]}]}}`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := ParseContent([]byte(tc.raw))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrMalformedContent) {
					t.Fatalf("error = %v, want ErrMalformedContent", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := c.QuestionCount(); got != tc.count {
				t.Fatalf("question count = %d, want %d", got, tc.count)
			}
		})
	}
}

func TestValidateForPublish(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		wantErr bool
	}{
		{name: "empty exam rejected", content: Content{}, wantErr: true},
		{
			name: "mc question with one choice rejected",
			content: Content{MultipleChoice: MCSectionPair{
				PartA: []MCQuestion{{Choices: []string{"A"}, CorrectAnswer: json.RawMessage(`"A"`)}},
			}},
			wantErr: true,
		},
		{
			name: "mc question without correct answer rejected",
			content: Content{MultipleChoice: MCSectionPair{
				PartB: []MCQuestion{{Choices: []string{"A", "B"}}},
			}},
			wantErr: true,
		},
		{
			name: "fr only exam is publishable",
			content: Content{FreeResponse: FRSectionPair{
				PartA: []FRQuestion{{Prompt: "essay"}},
			}},
		},
		{
			name: "valid mixed exam",
			content: Content{
				MultipleChoice: MCSectionPair{
					PartA: []MCQuestion{{Choices: []string{"A", "B"}, CorrectAnswer: json.RawMessage(`"A"`)}},
				},
				FreeResponse: FRSectionPair{
					PartB: []FRQuestion{{Prompt: "essay", TotalPoints: 8}},
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.content.ValidateForPublish()
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFRQuestionPoints(t *testing.T) {
	subParts := FRQuestion{
		TotalPoints: 99,
		Parts: []FRPart{
			{SubParts: []FRSubPart{{Points: 3}, {Points: 3}}},
			{SubParts: []FRSubPart{{Points: 4}}},
		},
	}
	if got := subParts.PointsPossible(); got != 10 {
		t.Fatalf("sub-part sum = %v, want 10", got)
	}
	if got := subParts.SubPartCount(); got != 3 {
		t.Fatalf("sub-part count = %d, want 3", got)
	}

	flat := FRQuestion{TotalPoints: 12}
	if got := flat.PointsPossible(); got != 12 {
		t.Fatalf("flat total = %v, want 12", got)
	}
	if got := flat.SubPartCount(); got != 1 {
		t.Fatalf("flat question counts as one piece, got %d", got)
	}

	bare := FRQuestion{}
	if got := bare.PointsPossible(); got != 6 {
		t.Fatalf("default points = %v, want 6", got)
	}
}

func TestFindFreeResponse(t *testing.T) {
	content := &Content{
		FreeResponse: FRSectionPair{
			PartA: []FRQuestion{{Prompt: "first"}},
			PartB: []FRQuestion{{Prompt: "second"}},
		},
	}

	q, ok := content.FindFreeResponse("2-0")
	if !ok || q.Prompt != "first" {
		t.Fatalf("2-0 = (%+v, %v), want first", q, ok)
	}
	q, ok = content.FindFreeResponse("3-0")
	if !ok || q.Prompt != "second" {
		t.Fatalf("3-0 = (%+v, %v), want second", q, ok)
	}

	for _, key := range []string{"0-0", "2-1", "3-9", "nonsense", "2-"} {
		if _, ok := content.FindFreeResponse(key); ok {
			t.Errorf("key %q should not resolve", key)
		}
	}
}

func TestQuestionKey(t *testing.T) {
	if got := QuestionKey(2, 5); got != "2-5" {
		t.Fatalf("key = %q, want 2-5", got)
	}
}
