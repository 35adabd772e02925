package tts

import "strings"

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// EscapeXML escapes the five XML special characters.
func EscapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// BuildSSML renders the markup document sent in the ssml frame.
func BuildSSML(voice Voice, rate, pitch, volume, text string) string {
	lang := voice.Locale
	if lang == "" {
		lang = "en-US"
	}
	var b strings.Builder
	b.WriteString("<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='")
	b.WriteString(EscapeXML(lang))
	b.WriteString("'><voice name='")
	b.WriteString(EscapeXML(voice.ShortName))
	b.WriteString("'><prosody pitch='")
	b.WriteString(EscapeXML(orDefault(pitch, "+0Hz")))
	b.WriteString("' rate='")
	b.WriteString(EscapeXML(orDefault(rate, "+0%")))
	b.WriteString("' volume='")
	b.WriteString(EscapeXML(orDefault(volume, "+0%")))
	b.WriteString("'>")
	b.WriteString(EscapeXML(text))
	b.WriteString("</prosody></voice></speak>")
	return b.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
