package tts

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	pathSpeechConfig = "speech.config"
	pathSSML         = "ssml"
	turnEndMarker    = "turn.end"
)

// Header is one Key:Value line of a frame header block.
type Header struct {
	Key   string
	Value string
}

// EncodeControlFrame renders headers as Key:Value lines terminated by CRLF,
// a blank line, then the body.
func EncodeControlFrame(headers []Header, body string) []byte {
	var b bytes.Buffer
	for _, h := range headers {
		b.WriteString(h.Key)
		b.WriteByte(':')
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.Bytes()
}

// SpeechConfigFrame selects the output encoding and disables boundary metadata.
func SpeechConfigFrame(ts time.Time, outputFormat string) []byte {
	body := `{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"` + outputFormat + `"}}}}`
	return EncodeControlFrame([]Header{
		{Key: "X-Timestamp", Value: formatTimestamp(ts)},
		{Key: "Content-Type", Value: "application/json; charset=utf-8"},
		{Key: "Path", Value: pathSpeechConfig},
	}, body)
}

// SSMLFrame carries the markup document for one request.
func SSMLFrame(requestID string, ts time.Time, ssml string) []byte {
	return EncodeControlFrame([]Header{
		{Key: "X-RequestId", Value: requestID},
		{Key: "Content-Type", Value: "application/ssml+xml"},
		{Key: "X-Timestamp", Value: formatTimestamp(ts)},
		{Key: "Path", Value: pathSSML},
	}, ssml)
}

// EncodeAudioFrame builds a binary frame: a big-endian uint16 header length,
// the header block, then the payload.
func EncodeAudioFrame(headers []Header, payload []byte) ([]byte, error) {
	block := EncodeControlFrame(headers, "")
	if len(block) > math.MaxUint16 {
		return nil, fmt.Errorf("audio frame header too large: %d bytes", len(block))
	}
	frame := make([]byte, 2, 2+len(block)+len(payload))
	binary.BigEndian.PutUint16(frame, uint16(len(block)))
	frame = append(frame, block...)
	frame = append(frame, payload...)
	return frame, nil
}

// DecodeAudioFrame returns the payload of a binary frame. Frames too short to
// carry a payload, or whose header length overruns the frame, report false.
func DecodeAudioFrame(frame []byte) ([]byte, bool) {
	if len(frame) <= 2 {
		return nil, false
	}
	headerLen := int(binary.BigEndian.Uint16(frame[:2]))
	if 2+headerLen > len(frame) {
		return nil, false
	}
	return frame[2+headerLen:], true
}

// ParseHeaders reads the Key:Value lines that precede the first blank line.
func ParseHeaders(frame []byte) map[string]string {
	headers := make(map[string]string)
	block := frame
	if i := bytes.Index(frame, []byte("\r\n\r\n")); i >= 0 {
		block = frame[:i]
	}
	for _, line := range strings.Split(string(block), "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return headers
}

// IsTurnEnd reports whether a text frame is the end-of-audio sentinel.
func IsTurnEnd(frame []byte) bool {
	return bytes.Contains(frame, []byte(turnEndMarker))
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15:04:05.000Z")
}
