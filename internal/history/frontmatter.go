package history

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("history: missing frontmatter")
	// ErrMalformedFrontMatter indicates the closing fence was not found.
	ErrMalformedFrontMatter = errors.New("history: malformed frontmatter")
)

// Result is the frontmatter of a published results page.
type Result struct {
	Date             string              `yaml:"date"`
	Title            string              `yaml:"title"`
	EventTitle       string              `yaml:"eventTitle"`
	EventDescription string              `yaml:"eventDescription,omitempty"`
	Location         string              `yaml:"location"`
	MainPhoto        string              `yaml:"mainPhoto"`
	Weather          string              `yaml:"weather,omitempty"`
	IsSpecialEvent   bool                `yaml:"isSpecialEvent"`
	Participants     []ResultParticipant `yaml:"participants"`
}

// ResultParticipant is one line of a results page.
type ResultParticipant struct {
	Runner      string  `yaml:"runner"`
	Distance    float64 `yaml:"distance"`
	SmallLoops  int     `yaml:"smallLoops"`
	MediumLoops int     `yaml:"mediumLoops"`
	LongLoops   int     `yaml:"longLoops"`
	Time        string  `yaml:"time"`
}

// ParseFrontMatter extracts the metadata block and body from a results page
// that starts with `---` YAML fences.
func ParseFrontMatter(content []byte) (Result, []byte, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Result{}, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	var meta, body []byte
	if bytes.HasPrefix(rest, []byte("---\n")) {
		body = rest[4:]
	} else {
		parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
		if len(parts) < 2 {
			if !bytes.HasSuffix(rest, []byte("\n---")) {
				return Result{}, nil, ErrMalformedFrontMatter
			}
			parts = [][]byte{bytes.TrimSuffix(rest, []byte("\n---")), nil}
		}
		meta, body = parts[0], parts[1]
	}
	var result Result
	if err := yaml.Unmarshal(meta, &result); err != nil {
		return Result{}, nil, fmt.Errorf("history: parse frontmatter: %w", err)
	}
	return result, body, nil
}
