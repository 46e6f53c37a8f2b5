package language

import (
	"strings"

	textlang "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

type entry struct {
	code2   string // ISO 639-1
	alt3    string // ISO 639-2/B, where it differs from the terminology code
	display string
	word    string
}

// common covers the languages WhisperX large-v3 handles best, plus the
// bibliographic codes x/text does not accept.
var common = []entry{
	{"en", "", "English", "english"},
	{"es", "", "Spanish", "spanish"},
	{"fr", "fre", "French", "french"},
	{"de", "ger", "German", "german"},
	{"it", "", "Italian", "italian"},
	{"pt", "", "Portuguese", "portuguese"},
	{"ja", "", "Japanese", "japanese"},
	{"ko", "", "Korean", "korean"},
	{"zh", "chi", "Chinese", "chinese"},
	{"ru", "", "Russian", "russian"},
	{"ar", "", "Arabic", "arabic"},
	{"hi", "", "Hindi", "hindi"},
	{"nl", "dut", "Dutch", "dutch"},
	{"pl", "", "Polish", "polish"},
	{"sv", "", "Swedish", "swedish"},
	{"da", "", "Danish", "danish"},
	{"no", "", "Norwegian", "norwegian"},
	{"fi", "", "Finnish", "finnish"},
}

var byAlias map[string]*entry

func init() {
	byAlias = make(map[string]*entry, len(common)*3)
	for i := range common {
		e := &common[i]
		byAlias[e.code2] = e
		byAlias[e.word] = e
		if e.alt3 != "" {
			byAlias[e.alt3] = e
		}
	}
}

// IsAuto reports whether value asks WhisperX to detect the language itself.
func IsAuto(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto", "detect":
		return true
	}
	return false
}

// ToISO2 converts a language code or English name to ISO 639-1. It returns
// an empty string when the input is unrecognized or has no two-letter code.
func ToISO2(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	if e, ok := byAlias[value]; ok {
		return e.code2
	}
	tag, err := textlang.Parse(value)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == textlang.No {
		return ""
	}
	if code := base.String(); len(code) == 2 {
		return code
	}
	return ""
}

// DisplayName returns the English name for value, "Auto-detect" for the
// detection sentinels, or the uppercased input when it is unrecognized.
func DisplayName(value string) string {
	if IsAuto(value) {
		return "Auto-detect"
	}
	code := ToISO2(value)
	if code == "" {
		return strings.ToUpper(strings.TrimSpace(value))
	}
	if e, ok := byAlias[code]; ok {
		return e.display
	}
	if name := display.English.Languages().Name(textlang.Make(code)); name != "" {
		return name
	}
	return strings.ToUpper(code)
}
