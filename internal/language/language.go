package language

import (
	"strings"

	xlang "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// words maps English language names, as operators tend to write them in
// config, to tags.
var words = map[string]xlang.Tag{
	"english":    xlang.English,
	"spanish":    xlang.Spanish,
	"french":     xlang.French,
	"german":     xlang.German,
	"italian":    xlang.Italian,
	"portuguese": xlang.Portuguese,
	"japanese":   xlang.Japanese,
	"korean":     xlang.Korean,
	"chinese":    xlang.Chinese,
	"russian":    xlang.Russian,
	"dutch":      xlang.Dutch,
	"polish":     xlang.Polish,
	"swedish":    xlang.Swedish,
}

// bibliographic ISO 639-2/B codes still common in older containers.
var bibliographic = map[string]string{
	"fre": "fr",
	"ger": "de",
	"dut": "nl",
	"chi": "zh",
	"cze": "cs",
	"gre": "el",
}

// Parse resolves an ISO 639 code (two or three letters), a BCP 47 tag or an
// English language name. ok is false for empty or unrecognized input.
func Parse(code string) (xlang.Tag, bool) {
	code = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(code, "\u0000", "")))
	if code == "" || code == "und" {
		return xlang.Und, false
	}
	if tag, ok := words[code]; ok {
		return tag, true
	}
	if alias, ok := bibliographic[code]; ok {
		code = alias
	}
	if base, err := xlang.ParseBase(code); err == nil {
		tag, err := xlang.Compose(base)
		return tag, err == nil
	}
	tag, err := xlang.Parse(code)
	if err != nil {
		return xlang.Und, false
	}
	return tag, true
}

// ToISO2 converts any recognized code or name to ISO 639-1. Languages
// without a two-letter code return their three-letter code; unrecognized
// input returns "".
func ToISO2(code string) string {
	tag, ok := Parse(code)
	if !ok {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}

// ToISO3 converts any recognized code to ISO 639-2/T. Unrecognized input
// returns "und".
func ToISO3(code string) string {
	tag, ok := Parse(code)
	if !ok {
		return "und"
	}
	base, _ := tag.Base()
	return base.ISO3()
}

// DisplayName returns the English name of a language code.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Unknown"
	}
	tag, ok := Parse(code)
	if !ok {
		return strings.ToUpper(strings.TrimSpace(code))
	}
	return display.English.Tags().Name(tag)
}

// FromTags extracts the language from container stream tags.
func FromTags(tags map[string]string) string {
	for _, key := range []string{"language", "LANGUAGE", "Language", "language_ietf", "lang", "LANG"} {
		if value := strings.TrimSpace(strings.ReplaceAll(tags[key], "\u0000", "")); value != "" {
			return ToISO2(value)
		}
	}
	return ""
}

// Matches reports whether two codes name the same base language.
func Matches(a, b string) bool {
	left, right := ToISO2(a), ToISO2(b)
	return left != "" && left == right
}
