package exam

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Section ids, in scoring order. Answer keys are "{sectionIndex}-{questionIndex}"
// with section indexes 0..3 following this order.
const (
	SectionMCPartA = "mc-a"
	SectionMCPartB = "mc-b"
	SectionFRPartA = "fr-a"
	SectionFRPartB = "fr-b"
)

const (
	defaultMCPoints = 1
	defaultFRPoints = 6
)

var sectionIDs = []string{SectionMCPartA, SectionMCPartB, SectionFRPartA, SectionFRPartB}

var ErrMalformedContent = errors.New("malformed exam content")

// Content is the typed form of an exam's authored question structure.
// Questions are partitioned into two multiple-choice and two free-response
// parts; any part may be empty while the exam is a draft.
type Content struct {
	MultipleChoice MCSectionPair `json:"multiple_choice"`
	FreeResponse   FRSectionPair `json:"free_response"`
}

type MCSectionPair struct {
	PartA []MCQuestion `json:"part_a"`
	PartB []MCQuestion `json:"part_b"`
}

type FRSectionPair struct {
	PartA []FRQuestion `json:"part_a"`
	PartB []FRQuestion `json:"part_b"`
}

type MCQuestion struct {
	Prompt        string          `json:"prompt"`
	Choices       []string        `json:"choices"`
	CorrectAnswer json.RawMessage `json:"correct_answer"`
	Points        float64         `json:"points,omitempty"`
}

type FRQuestion struct {
	Prompt      string   `json:"prompt"`
	TotalPoints float64  `json:"total_points,omitempty"`
	Parts       []FRPart `json:"parts,omitempty"`
}

type FRPart struct {
	Prompt   string      `json:"prompt,omitempty"`
	SubParts []FRSubPart `json:"sub_parts,omitempty"`
}

type FRSubPart struct {
	Prompt string  `json:"prompt,omitempty"`
	Points float64 `json:"points,omitempty"`
}

// Answers maps question keys ("{sectionIndex}-{questionIndex}") to raw
// submitted values. MC values are the selected choice (index or label);
// FR values are a string or an array of strings, one per sub-part.
type Answers map[string]json.RawMessage

// ParseContent decodes authored exam content at the authoring boundary so
// the scorer can assume well-typed input. Empty input parses to an empty
// draft; structurally invalid JSON is rejected.
func ParseContent(raw []byte) (*Content, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return &Content{}, nil
	}

	var c Content
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}

	for _, sec := range [][]MCQuestion{c.MultipleChoice.PartA, c.MultipleChoice.PartB} {
		for i, q := range sec {
			if q.Points < 0 {
				return nil, fmt.Errorf("%w: negative points on mc question %d", ErrMalformedContent, i)
			}
		}
	}
	for _, sec := range [][]FRQuestion{c.FreeResponse.PartA, c.FreeResponse.PartB} {
		for i, q := range sec {
			if q.TotalPoints < 0 {
				return nil, fmt.Errorf("%w: negative points on fr question %d", ErrMalformedContent, i)
			}
			for _, p := range q.Parts {
				for _, sp := range p.SubParts {
					if sp.Points < 0 {
						return nil, fmt.Errorf("%w: negative sub-part points on fr question %d", ErrMalformedContent, i)
					}
				}
			}
		}
	}

	return &c, nil
}

// ValidateForPublish enforces the invariants an exam must satisfy before it
// can be taken: at least one question and answerable MC entries.
func (c *Content) ValidateForPublish() error {
	if c.QuestionCount() == 0 {
		return fmt.Errorf("%w: exam has no questions", ErrMalformedContent)
	}
	check := func(section string, qs []MCQuestion) error {
		for i, q := range qs {
			if len(q.Choices) < 2 {
				return fmt.Errorf("%w: %s question %d needs at least two choices", ErrMalformedContent, section, i)
			}
			if len(q.CorrectAnswer) == 0 || string(q.CorrectAnswer) == "null" {
				return fmt.Errorf("%w: %s question %d has no correct answer", ErrMalformedContent, section, i)
			}
		}
		return nil
	}
	if err := check(SectionMCPartA, c.MultipleChoice.PartA); err != nil {
		return err
	}
	return check(SectionMCPartB, c.MultipleChoice.PartB)
}

func (c *Content) QuestionCount() int {
	return len(c.MultipleChoice.PartA) + len(c.MultipleChoice.PartB) +
		len(c.FreeResponse.PartA) + len(c.FreeResponse.PartB)
}

func (c *Content) FreeResponseCount() int {
	return len(c.FreeResponse.PartA) + len(c.FreeResponse.PartB)
}

// PointsPossible resolves an FR question's point value: declared sub-part
// points win, then the flat total, then the default of 6.
func (q FRQuestion) PointsPossible() float64 {
	sum := 0.0
	for _, p := range q.Parts {
		for _, sp := range p.SubParts {
			sum += sp.Points
		}
	}
	if sum > 0 {
		return sum
	}
	if q.TotalPoints > 0 {
		return q.TotalPoints
	}
	return defaultFRPoints
}

// SubPartCount is the number of independently answerable pieces; a question
// without declared parts is answered as a single piece.
func (q FRQuestion) SubPartCount() int {
	n := 0
	for _, p := range q.Parts {
		n += len(p.SubParts)
	}
	if n == 0 {
		return 1
	}
	return n
}

func (q MCQuestion) PointsPossible() float64 {
	if q.Points > 0 {
		return q.Points
	}
	return defaultMCPoints
}

// QuestionKey builds the composite answer key for a question position.
func QuestionKey(sectionIndex, questionIndex int) string {
	return fmt.Sprintf("%d-%d", sectionIndex, questionIndex)
}

// FindFreeResponse resolves a question key to the FR question it names.
// Returns false for MC keys and out-of-range indexes.
func (c *Content) FindFreeResponse(key string) (FRQuestion, bool) {
	var sectionIndex, questionIndex int
	if _, err := fmt.Sscanf(key, "%d-%d", &sectionIndex, &questionIndex); err != nil {
		return FRQuestion{}, false
	}
	var qs []FRQuestion
	switch sectionIndex {
	case 2:
		qs = c.FreeResponse.PartA
	case 3:
		qs = c.FreeResponse.PartB
	default:
		return FRQuestion{}, false
	}
	if questionIndex < 0 || questionIndex >= len(qs) {
		return FRQuestion{}, false
	}
	return qs[questionIndex], true
}

func sectionIDForIndex(i int) string {
	if i >= 0 && i < len(sectionIDs) {
		return sectionIDs[i]
	}
	return fmt.Sprintf("section-%d", i)
}
