package protocol

import "time"

// VerseText is one verse of a chapter carried in a generation request.
type VerseText struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// GenerateRequest asks the service to produce audio for a chapter.
type GenerateRequest struct {
	RequestID   string      `json:"request_id"`
	Translation string      `json:"translation"`
	Book        string      `json:"book"`
	Chapter     int         `json:"chapter"`
	Verses      []VerseText `json:"verses"`
	Priority    string      `json:"priority,omitempty"`
	Mode        string      `json:"mode,omitempty"` // progressive, precache
}

// CancelRequest stops the active run of the given mode. An empty mode
// cancels both.
type CancelRequest struct {
	ChapterKey string `json:"chapter_key,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

// Ack is the reply to a request sent with a reply subject.
type Ack struct {
	RequestID  string `json:"request_id"`
	ChapterKey string `json:"chapter_key,omitempty"`
	Accepted   bool   `json:"accepted"`
	Error      string `json:"error,omitempty"`
}

type VerseTiming struct {
	Verse   int   `json:"verse"`
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`
}

// GenerationEvent reports the progress of one generation run.
type GenerationEvent struct {
	RequestID       string        `json:"request_id"`
	ChapterKey      string        `json:"chapter_key"`
	Type            string        `json:"type"`
	ManifestRef     string        `json:"manifest_ref,omitempty"`
	Progress        float64       `json:"progress,omitempty"`
	Timings         []VerseTiming `json:"timings,omitempty"`
	TotalDurationMS int64         `json:"total_duration_ms,omitempty"`
	SegmentCount    int           `json:"segment_count,omitempty"`
	Error           string        `json:"error,omitempty"`
	ErrorKind       string        `json:"error_kind,omitempty"`
	Phase           string        `json:"phase,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

const (
	ModeProgressive = "progressive"
	ModePrecache    = "precache"
)

const (
	EventQuickStart = "quick_start"
	EventProgress   = "progress"
	EventUpdate     = "update"
	EventComplete   = "complete"
	EventFailed     = "failed"
	EventCancelled  = "cancelled"
)

const (
	SubjectGenerateRequest = "chapter.generate.request"
	SubjectGenerateCancel  = "chapter.generate.cancel"
	SubjectEventPrefix     = "chapter.generate.event"
	// SubjectEvents matches every chapter's events.
	SubjectEvents = SubjectEventPrefix + ".>"
)

// EventSubject is where events for one chapter are published.
func EventSubject(chapterKey string) string {
	return SubjectEventPrefix + "." + chapterKey
}
