package chapter

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKey(t *testing.T) {
	c := Chapter{Translation: "KJV", Book: "1 John", Number: 3}
	if got := c.Key(); got != "kjv-1-john-003" {
		t.Fatalf("unexpected key %q", got)
	}
	c = Chapter{Translation: "web", Book: "Song of Solomon ", Number: 12}
	if got := c.Key(); got != "web-song-of-solomon-012" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "john3.yaml")
	doc := `translation: kjv
book: John
number: 3
verses:
  - number: 1
    text: There was a man of the Pharisees, named Nicodemus.
  - number: 2
    text: The same came to Jesus by night.
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write chapter: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Key() != "kjv-john-003" || len(c.Verses) != 2 || c.Verses[1].Number != 2 {
		t.Fatalf("unexpected chapter %+v", c)
	}
}

func TestParseJSON(t *testing.T) {
	c, err := Parse([]byte(`{"book":"Jude","number":1,"verses":[{"number":1,"text":"Jude, the servant of Jesus Christ."}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Translation != "text" || c.Key() != "text-jude-001" {
		t.Fatalf("unexpected chapter %+v", c)
	}
}

func TestValidateRejectsDisorder(t *testing.T) {
	c := Chapter{Book: "John", Number: 1, Verses: []Verse{{Number: 2, Text: "b"}, {Number: 1, Text: "a"}}}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected out-of-order verses to be rejected")
	}
	c = Chapter{Book: "John", Number: 1, Verses: []Verse{{Number: 1, Text: " "}}}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected blank verse to be rejected")
	}
	if err := (Chapter{Book: "John", Number: 1}).Validate(); err != nil {
		t.Fatalf("empty chapter should validate: %v", err)
	}
}
