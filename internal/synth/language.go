package synth

import (
	"github.com/abadojack/whatlanggo"
)

// backendLanguages maps a detected ISO 639-3 code to each backend's own
// language vocabulary. Guesses a backend does not support fall through to
// its default.
var backendLanguages = map[string]map[string]string{
	"edge": {
		"cmn": "zh-CN",
		"eng": "en-US",
		"jpn": "ja-JP",
		"kor": "ko-KR",
		"fra": "fr-FR",
		"deu": "de-DE",
		"spa": "es-ES",
		"rus": "ru-RU",
	},
	"gpt_sovits": {
		"cmn": "zh",
		"eng": "en",
		"jpn": "ja",
		"kor": "ko",
	},
	"exec": {
		"cmn": "zh",
		"eng": "en",
	},
}

var backendLanguageDefaults = map[string]string{
	"edge":       "zh-CN",
	"gpt_sovits": "zh",
	"exec":       "zh",
}

// ResolveLanguage picks the language a backend call should use. An explicit
// non-auto request passes through untouched. "auto" (or empty) runs language
// detection on the text and maps the guess into the backend's vocabulary,
// falling back to the backend's default when the guess is unsupported.
func ResolveLanguage(backendID, requested, text string) string {
	if requested != "" && requested != "auto" {
		return requested
	}

	fallback := backendLanguageDefaults[backendID]
	table := backendLanguages[backendID]
	if table == nil {
		return fallback
	}

	info := whatlanggo.Detect(text)
	code := whatlanggo.LangToString(info.Lang)
	if mapped, ok := table[code]; ok {
		return mapped
	}
	return fallback
}
