package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	// Seconds between 1601-01-01 (Windows FILETIME epoch) and 1970-01-01.
	windowsEpochOffset = 11644473600
	ticksPerSecond     = 10_000_000
	// Five minutes of 100ns ticks.
	tokenWindowTicks = 3_000_000_000
)

// SecurityToken derives the Sec-MS-GEC connection parameter. The value is
// stable within a five-minute window of FILETIME ticks.
func SecurityToken(now time.Time, clientToken string) string {
	ticks := (now.Unix() + windowsEpochOffset) * ticksPerSecond
	ticks -= ticks % tokenWindowTicks
	sum := sha256.Sum256([]byte(strconv.FormatInt(ticks, 10) + clientToken))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
