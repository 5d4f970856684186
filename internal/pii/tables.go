package pii

import "strings"

var countryCodes = map[string]string{
	"united states":            "us",
	"united states of america": "us",
	"usa":                      "us",
	"america":                  "us",
	"canada":                   "ca",
	"mexico":                   "mx",
	"brazil":                   "br",
	"argentina":                "ar",
	"chile":                    "cl",
	"colombia":                 "co",
	"peru":                     "pe",
	"united kingdom":           "gb",
	"great britain":            "gb",
	"england":                  "gb",
	"scotland":                 "gb",
	"wales":                    "gb",
	"uk":                       "gb",
	"ireland":                  "ie",
	"france":                   "fr",
	"germany":                  "de",
	"deutschland":              "de",
	"spain":                    "es",
	"espana":                   "es",
	"portugal":                 "pt",
	"italy":                    "it",
	"netherlands":              "nl",
	"holland":                  "nl",
	"belgium":                  "be",
	"switzerland":              "ch",
	"austria":                  "at",
	"sweden":                   "se",
	"norway":                   "no",
	"denmark":                  "dk",
	"finland":                  "fi",
	"poland":                   "pl",
	"czech republic":           "cz",
	"czechia":                  "cz",
	"greece":                   "gr",
	"turkey":                   "tr",
	"russia":                   "ru",
	"ukraine":                  "ua",
	"israel":                   "il",
	"united arab emirates":     "ae",
	"uae":                      "ae",
	"saudi arabia":             "sa",
	"egypt":                    "eg",
	"south africa":             "za",
	"nigeria":                  "ng",
	"kenya":                    "ke",
	"india":                    "in",
	"pakistan":                 "pk",
	"china":                    "cn",
	"japan":                    "jp",
	"south korea":              "kr",
	"korea":                    "kr",
	"singapore":                "sg",
	"malaysia":                 "my",
	"indonesia":                "id",
	"philippines":              "ph",
	"thailand":                 "th",
	"vietnam":                  "vn",
	"australia":                "au",
	"new zealand":              "nz",
}

var stateCodes = map[string]string{
	"alabama":              "al",
	"alaska":               "ak",
	"arizona":              "az",
	"arkansas":             "ar",
	"california":           "ca",
	"colorado":             "co",
	"connecticut":          "ct",
	"delaware":             "de",
	"district of columbia": "dc",
	"florida":              "fl",
	"georgia":              "ga",
	"hawaii":               "hi",
	"idaho":                "id",
	"illinois":             "il",
	"indiana":              "in",
	"iowa":                 "ia",
	"kansas":               "ks",
	"kentucky":             "ky",
	"louisiana":            "la",
	"maine":                "me",
	"maryland":             "md",
	"massachusetts":        "ma",
	"michigan":             "mi",
	"minnesota":            "mn",
	"mississippi":          "ms",
	"missouri":             "mo",
	"montana":              "mt",
	"nebraska":             "ne",
	"nevada":               "nv",
	"new hampshire":        "nh",
	"new jersey":           "nj",
	"new mexico":           "nm",
	"new york":             "ny",
	"north carolina":       "nc",
	"north dakota":         "nd",
	"ohio":                 "oh",
	"oklahoma":             "ok",
	"oregon":               "or",
	"pennsylvania":         "pa",
	"rhode island":         "ri",
	"south carolina":       "sc",
	"south dakota":         "sd",
	"tennessee":            "tn",
	"texas":                "tx",
	"utah":                 "ut",
	"vermont":              "vt",
	"virginia":             "va",
	"washington":           "wa",
	"west virginia":        "wv",
	"wisconsin":            "wi",
	"wyoming":              "wy",
	"alberta":              "ab",
	"british columbia":     "bc",
	"manitoba":             "mb",
	"new brunswick":        "nb",
	"newfoundland":         "nl",
	"nova scotia":          "ns",
	"ontario":              "on",
	"quebec":               "qc",
	"saskatchewan":         "sk",
}

// callingCodes maps international dialing prefixes to ISO country codes.
var callingCodes = map[string]string{
	"1":   "us",
	"7":   "ru",
	"20":  "eg",
	"27":  "za",
	"30":  "gr",
	"31":  "nl",
	"32":  "be",
	"33":  "fr",
	"34":  "es",
	"36":  "hu",
	"39":  "it",
	"40":  "ro",
	"41":  "ch",
	"43":  "at",
	"44":  "gb",
	"45":  "dk",
	"46":  "se",
	"47":  "no",
	"48":  "pl",
	"49":  "de",
	"51":  "pe",
	"52":  "mx",
	"54":  "ar",
	"55":  "br",
	"56":  "cl",
	"57":  "co",
	"58":  "ve",
	"60":  "my",
	"61":  "au",
	"62":  "id",
	"63":  "ph",
	"64":  "nz",
	"65":  "sg",
	"66":  "th",
	"81":  "jp",
	"82":  "kr",
	"84":  "vn",
	"86":  "cn",
	"90":  "tr",
	"91":  "in",
	"92":  "pk",
	"94":  "lk",
	"98":  "ir",
	"212": "ma",
	"213": "dz",
	"234": "ng",
	"254": "ke",
	"351": "pt",
	"353": "ie",
	"354": "is",
	"358": "fi",
	"380": "ua",
	"420": "cz",
	"421": "sk",
	"852": "hk",
	"886": "tw",
	"966": "sa",
	"971": "ae",
	"972": "il",
	"974": "qa",
}

// CountryFromPhone infers a country from the calling-code prefix of a raw,
// unhashed phone number using the longest matching 1-3 digit prefix. Only
// numbers written in international form (leading "+" or "00") or with more
// than ten digits are considered to carry a calling code.
func CountryFromPhone(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || IsHashed(trimmed) {
		return "", false
	}
	digits := digitsOnly(trimmed)
	international := strings.HasPrefix(trimmed, "+") || strings.HasPrefix(digits, "00")
	digits = strings.TrimPrefix(digits, "00")
	if !international && len(digits) <= 10 {
		return "", false
	}
	for n := 3; n >= 1; n-- {
		if len(digits) <= n {
			continue
		}
		if code, ok := callingCodes[digits[:n]]; ok {
			return code, true
		}
	}
	return "", false
}
