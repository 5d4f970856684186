package pii

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer maps a raw value to its canonical form. ok is false when the
// value cannot be used and must be dropped.
type Normalizer func(raw string) (string, bool)

var normalizers = [numFields]Normalizer{
	Email:       NormalizeEmail,
	Phone:       NormalizePhone,
	FirstName:   NormalizeName,
	LastName:    NormalizeName,
	Gender:      NormalizeGender,
	DateOfBirth: NormalizeDOB,
	City:        NormalizeCity,
	State:       NormalizeState,
	Zip:         NormalizeZip,
	Country:     NormalizeCountry,
	ExternalID:  NormalizeExternalID,
}

// Normalize applies the field's rule. Already-hashed values pass through.
func Normalize(f Field, raw string) (string, bool) {
	if f < 0 || f >= numFields {
		return "", false
	}
	if IsHashed(raw) {
		return raw, true
	}
	return normalizers[f](raw)
}

var emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func NormalizeEmail(raw string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if !emailShape.MatchString(v) {
		return "", false
	}
	return v, true
}

// NormalizePhone keeps digits only and drops a leading international "00".
// Fewer than seven remaining digits is not a phone number.
func NormalizePhone(raw string) (string, bool) {
	v := digitsOnly(raw)
	v = strings.TrimPrefix(v, "00")
	if len(v) < 7 {
		return "", false
	}
	return v, true
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	namePrefixes = map[string]bool{"mr": true, "mrs": true, "ms": true, "miss": true, "mx": true, "dr": true, "prof": true, "sir": true, "madam": true}
	nameSuffixes = map[string]bool{"jr": true, "sr": true, "ii": true, "iii": true, "iv": true, "phd": true, "md": true, "esq": true}
)

// NormalizeName lowercases, strips honorifics and diacritics, and keeps
// letters and single spaces only.
func NormalizeName(raw string) (string, bool) {
	tokens := strings.Fields(strings.ToLower(raw))
	if len(tokens) > 1 && namePrefixes[strings.TrimRight(tokens[0], ".")] {
		tokens = tokens[1:]
	}
	if len(tokens) > 1 && nameSuffixes[strings.Trim(tokens[len(tokens)-1], ".,")] {
		tokens = tokens[:len(tokens)-1]
	}
	return lettersAndSpaces(strings.Join(tokens, " "))
}

// NormalizeCity shares the letter/space folding of names without the
// honorific handling.
func NormalizeCity(raw string) (string, bool) {
	return lettersAndSpaces(strings.ToLower(raw))
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func lettersAndSpaces(s string) (string, bool) {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			space = true
		}
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

var (
	femaleWords = []string{"female", "woman", "women", "girl", "lady", "femme", "femenino", "weiblich"}
	maleWords   = []string{"male", "man", "men", "boy", "homme", "masculino", "maennlich"}
)

// NormalizeGender reduces to "m" or "f".
func NormalizeGender(raw string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return "", false
	}
	for _, w := range femaleWords {
		if v == w {
			return "f", true
		}
	}
	for _, w := range maleWords {
		if v == w {
			return "m", true
		}
	}
	switch v[0] {
	case 'f', 'w':
		return "f", true
	case 'm':
		return "m", true
	}
	return "", false
}

var (
	dobCompact = regexp.MustCompile(`^\d{8}$`)
	dobLayouts = []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"1/2/2006",
		"02.01.2006",
		"02-01-2006",
		"January 2, 2006",
		"Jan 2, 2006",
		"2 January 2006",
		time.RFC3339,
	}
)

// NormalizeDOB emits YYYYMMDD.
func NormalizeDOB(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	if dobCompact.MatchString(v) {
		if _, err := time.Parse("20060102", v); err != nil {
			return "", false
		}
		return v, true
	}
	for _, layout := range dobLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("20060102"), true
		}
	}
	return "", false
}

// NormalizeState accepts a two-letter code, a known region name, or falls
// back to the first two letters.
func NormalizeState(raw string) (string, bool) {
	v, ok := lettersAndSpaces(strings.ToLower(raw))
	if !ok {
		return "", false
	}
	if len(v) == 2 {
		return v, true
	}
	if code, found := stateCodes[v]; found {
		return code, true
	}
	compact := strings.ReplaceAll(v, " ", "")
	if len(compact) < 2 {
		return "", false
	}
	return compact[:2], true
}

var usZip = regexp.MustCompile(`^\d{5}(-?\d{4})?$`)

// NormalizeZip truncates US ZIP+4 to five digits; other postal codes are
// lowercased with spaces removed.
func NormalizeZip(raw string) (string, bool) {
	v := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if v == "" {
		return "", false
	}
	if usZip.MatchString(v) {
		return v[:5], true
	}
	return v, true
}

// NormalizeCountry returns an ISO 3166-1 alpha-2 code in lowercase.
func NormalizeCountry(raw string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if len(v) == 2 {
		return v, true
	}
	if code, ok := countryCodes[strings.Join(strings.Fields(v), " ")]; ok {
		return code, true
	}
	return "", false
}

func NormalizeExternalID(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	return v, v != ""
}
