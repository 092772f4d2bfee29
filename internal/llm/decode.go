package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/companion/internal/domain"
)

// ParseError reports model output that could not be decoded into the expected value.
type ParseError struct {
	What string
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s from %q: %v", e.What, e.Raw, e.Err)
	}
	return fmt.Sprintf("parse %s from %q", e.What, e.Raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeDelta extracts a signed integer from free-form model output by
// dropping every character that is not a digit or a sign.
func DecodeDelta(raw string) (int, error) {
	var b strings.Builder
	for _, r := range raw {
		switch r {
		case '\u2212', '\u2013', '\u2012': // minus sign, en dash, figure dash
			r = '-'
		}
		if (r >= '0' && r <= '9') || r == '+' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, &ParseError{What: "affinity delta", Raw: raw}
	}
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, &ParseError{What: "affinity delta", Raw: raw, Err: err}
	}
	return n, nil
}

// flexInt accepts 21, "21" and "21 years".
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	digits := leadingDigits.Find(data)
	if digits == nil {
		return fmt.Errorf("no number in %q", data)
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

var (
	leadingDigits = regexp.MustCompile(`\d+`)
	// "Maria, 21, loves hiking" / "Maria, 21 years old. Loves hiking."
	profileLine = regexp.MustCompile(`^\s*([^\d,.{}]{2,40}?)\s*[,-]\s*(\d{1,2})\b[^.,;:!]*[.,;:!]?\s*(.*)$`)
)

type personaPayload struct {
	Name       string  `json:"name"`
	Age        flexInt `json:"age"`
	Traits     string  `json:"traits"`
	Hobbies    string  `json:"hobbies"`
	Appearance string  `json:"appearance"`
}

// DecodePersona extracts a persona from model output. It prefers the first
// JSON object in the text (code fences and chatter around it are ignored) and
// falls back to a "Name, age, synopsis" line. Ages are clamped into
// [minAge, maxAge].
func DecodePersona(raw string, minAge, maxAge int) (domain.Persona, error) {
	text := strings.TrimSpace(raw)

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		var p personaPayload
		if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
			return domain.Persona{}, &ParseError{What: "persona", Raw: raw, Err: err}
		}
		traits := strings.TrimSpace(p.Traits)
		if traits == "" {
			traits = strings.TrimSpace(p.Hobbies)
		}
		return finishPersona(p.Name, int(p.Age), traits, p.Appearance, minAge, maxAge, raw)
	}

	firstLine, _, _ := strings.Cut(text, "\n")
	m := profileLine.FindStringSubmatch(firstLine)
	if m == nil {
		return domain.Persona{}, &ParseError{What: "persona", Raw: raw}
	}
	age, _ := strconv.Atoi(m[2])
	return finishPersona(m[1], age, m[3], "", minAge, maxAge, raw)
}

func finishPersona(name string, age int, traits, appearance string, minAge, maxAge int, raw string) (domain.Persona, error) {
	name = strings.Trim(strings.TrimSpace(name), `"*`)
	if name == "" {
		return domain.Persona{}, &ParseError{What: "persona name", Raw: raw}
	}
	if age < minAge {
		age = minAge
	}
	if maxAge >= minAge && age > maxAge {
		age = maxAge
	}
	return domain.Persona{
		Name:       name,
		Age:        age,
		Traits:     strings.TrimSpace(traits),
		Appearance: strings.TrimSpace(appearance),
	}, nil
}
