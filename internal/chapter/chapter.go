package chapter

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

type Verse struct {
	Number int    `yaml:"number" json:"number"`
	Text   string `yaml:"text" json:"text"`
}

// Chapter is an ordered list of verses from one book.
type Chapter struct {
	Translation string  `yaml:"translation" json:"translation"`
	Book        string  `yaml:"book" json:"book"`
	Number      int     `yaml:"number" json:"number"`
	Verses      []Verse `yaml:"verses" json:"verses"`
}

// Key identifies the chapter in storage, e.g. "kjv-1-john-003".
func (c Chapter) Key() string {
	return fmt.Sprintf("%s-%s-%03d", slug(c.Translation), slug(c.Book), c.Number)
}

// Validate checks identity fields and that verse numbers strictly increase.
// An empty verse list is valid here; generation rejects it.
func (c Chapter) Validate() error {
	if strings.TrimSpace(c.Book) == "" {
		return errors.New("chapter book must not be empty")
	}
	if c.Number <= 0 {
		return errors.New("chapter number must be positive")
	}
	prev := 0
	for i, v := range c.Verses {
		if v.Number <= prev {
			return fmt.Errorf("verse %d at index %d is out of order", v.Number, i)
		}
		if strings.TrimSpace(v.Text) == "" {
			return fmt.Errorf("verse %d has no text", v.Number)
		}
		prev = v.Number
	}
	return nil
}

// Parse decodes a chapter document. JSON input is accepted as YAML.
func Parse(data []byte) (Chapter, error) {
	var c Chapter
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Chapter{}, fmt.Errorf("parse chapter: %w", err)
	}
	if c.Translation == "" {
		c.Translation = "text"
	}
	if err := c.Validate(); err != nil {
		return Chapter{}, err
	}
	return c, nil
}

func Load(path string) (Chapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Chapter{}, fmt.Errorf("read chapter file: %w", err)
	}
	return Parse(data)
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
