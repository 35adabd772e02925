package tts

import "strings"

// Voice is a remote neural voice.
type Voice struct {
	DisplayName string `json:"display_name" yaml:"display_name"`
	ShortName   string `json:"short_name" yaml:"short_name"`
	Locale      string `json:"locale" yaml:"locale"`
	Gender      string `json:"gender" yaml:"gender"`
}

// DefaultVoice is used when no catalog entry matches.
var DefaultVoice = Voice{DisplayName: "Guy", ShortName: "en-US-GuyNeural", Locale: "en-US", Gender: "Male"}

// Voices is the curated catalog offered to listeners.
var Voices = []Voice{
	DefaultVoice,
	{DisplayName: "Aria", ShortName: "en-US-AriaNeural", Locale: "en-US", Gender: "Female"},
	{DisplayName: "Christopher", ShortName: "en-US-ChristopherNeural", Locale: "en-US", Gender: "Male"},
	{DisplayName: "Jenny", ShortName: "en-US-JennyNeural", Locale: "en-US", Gender: "Female"},
	{DisplayName: "Ryan", ShortName: "en-GB-RyanNeural", Locale: "en-GB", Gender: "Male"},
	{DisplayName: "Sonia", ShortName: "en-GB-SoniaNeural", Locale: "en-GB", Gender: "Female"},
	{DisplayName: "William", ShortName: "en-AU-WilliamNeural", Locale: "en-AU", Gender: "Male"},
	{DisplayName: "Natasha", ShortName: "en-AU-NatashaNeural", Locale: "en-AU", Gender: "Female"},
	{DisplayName: "Alvaro", ShortName: "es-ES-AlvaroNeural", Locale: "es-ES", Gender: "Male"},
	{DisplayName: "Elvira", ShortName: "es-ES-ElviraNeural", Locale: "es-ES", Gender: "Female"},
	{DisplayName: "Antonio", ShortName: "pt-BR-AntonioNeural", Locale: "pt-BR", Gender: "Male"},
	{DisplayName: "Francisca", ShortName: "pt-BR-FranciscaNeural", Locale: "pt-BR", Gender: "Female"},
	{DisplayName: "Henri", ShortName: "fr-FR-HenriNeural", Locale: "fr-FR", Gender: "Male"},
	{DisplayName: "Denise", ShortName: "fr-FR-DeniseNeural", Locale: "fr-FR", Gender: "Female"},
	{DisplayName: "Conrad", ShortName: "de-DE-ConradNeural", Locale: "de-DE", Gender: "Male"},
	{DisplayName: "Katja", ShortName: "de-DE-KatjaNeural", Locale: "de-DE", Gender: "Female"},
}

// LookupVoice returns the first catalog voice matching gender and locale,
// or DefaultVoice.
func LookupVoice(gender, locale string) Voice {
	for _, v := range Voices {
		if strings.EqualFold(v.Gender, gender) && strings.EqualFold(v.Locale, locale) {
			return v
		}
	}
	return DefaultVoice
}

// VoiceByShortName finds a catalog voice by identifier. Unknown identifiers
// are still usable against the backend, so they come back as an ad-hoc voice.
func VoiceByShortName(name string) Voice {
	for _, v := range Voices {
		if strings.EqualFold(v.ShortName, name) {
			return v
		}
	}
	locale := ""
	if parts := strings.SplitN(name, "-", 3); len(parts) == 3 {
		locale = parts[0] + "-" + parts[1]
	}
	return Voice{DisplayName: name, ShortName: name, Locale: locale}
}
