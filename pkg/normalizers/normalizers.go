// Package normalizers holds the named value normalizers a comparison or index
// field can select. Every normalizer maps a raw filing value to the form that
// is compared; none of them fail.
package normalizers

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer rewrites one value.
type Normalizer func(string) string

// Raw is the explicit name for "no normalization".
const Raw = "raw"

var registry = map[string]Normalizer{
	"lowercase":          strings.ToLower,
	"trim":               Trim,
	"fold":               Fold,
	"digits_only":        DigitsOnly,
	"alphanumeric":       Alphanumeric,
	"remove_punctuation": RemovePunctuation,
	"nname":              NormalizeName,
	"ncommittee":         NormalizeCommittee,
	"naddress":           NormalizeAddress,
	"nzip":               NormalizeZipCode,
}

// Register adds or replaces a normalizer. It is meant for init functions.
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Exists reports whether name selects a normalizer. "" and Raw always do.
func Exists(name string) bool {
	if name == "" || name == Raw {
		return true
	}
	_, ok := registry[name]
	return ok
}

// Apply runs the named normalizer. Unknown names, "" and Raw leave the value as is.
func Apply(value, name string) string {
	if fn, ok := registry[name]; ok {
		return fn(value)
	}
	return value
}

func Trim(s string) string {
	return strings.TrimSpace(s)
}

// foldChain is rebuilt per call since transformers carry state.
func foldChain() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Fold strips diacritics after compatibility decomposition, so "José" becomes "Jose".
func Fold(s string) string {
	out, _, err := transform.String(foldChain(), s)
	if err != nil {
		return s
	}
	return out
}

func keep(s string, pred func(rune) bool) string {
	return strings.Map(func(r rune) rune {
		if pred(r) {
			return r
		}
		return -1
	}, s)
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func DigitsOnly(s string) string {
	return keep(s, unicode.IsDigit)
}

func Alphanumeric(s string) string {
	return keep(s, isAlnum)
}

func RemovePunctuation(s string) string {
	return keep(s, func(r rune) bool { return !unicode.IsPunct(r) })
}

// Tokens folds and lowercases s and splits it on anything that is not a letter or digit.
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(Fold(s)), func(r rune) bool { return !isAlnum(r) })
}

// Generational and professional suffixes dropped from the end of names.
var nameSuffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true,
	"phd": true, "md": true, "dds": true, "esq": true,
}

// NormalizeName lowercases and folds a contributor name, drops punctuation and
// trailing suffixes ("Jr.", "III") and collapses whitespace. Comma-separated
// "LAST, FIRST" order is kept.
func NormalizeName(s string) string {
	words := Tokens(s)
	for len(words) > 1 && nameSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// Filler words in committee names: "Friends of Jane Doe" and "Committee to
// Elect Jane Doe" both reduce to "jane doe".
var committeeFiller = map[string]bool{
	"committee": true, "comm": true, "cmte": true, "to": true, "elect": true,
	"reelect": true, "re": true, "the": true, "for": true, "friends": true,
	"of": true, "pac": true, "inc": true, "campaign": true,
}

// NormalizeCommittee reduces a committee or filer name to its distinctive words.
// A name made only of filler words normalizes like a plain name.
func NormalizeCommittee(s string) string {
	words := Tokens(s)
	kept := words[:0:0]
	for _, w := range words {
		if !committeeFiller[w] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return strings.Join(words, " ")
	}
	return strings.Join(kept, " ")
}

var addressWords = map[string]string{
	"street": "st", "avenue": "ave", "boulevard": "blvd", "drive": "dr",
	"road": "rd", "lane": "ln", "court": "ct", "circle": "cir", "place": "pl",
	"highway": "hwy", "parkway": "pkwy", "terrace": "ter",
	"apartment": "apt", "suite": "ste",
	"north": "n", "south": "s", "east": "e", "west": "w",
	"northeast": "ne", "northwest": "nw", "southeast": "se", "southwest": "sw",
}

var addressPunct = regexp.MustCompile(`[^\p{L}\p{N}#\s]+`)

// NormalizeAddress lowercases and folds a street address, replaces punctuation
// other than '#' with spaces and abbreviates street words USPS style.
func NormalizeAddress(s string) string {
	words := strings.Fields(addressPunct.ReplaceAllString(strings.ToLower(Fold(s)), " "))
	for i, w := range words {
		if abbr, ok := addressWords[w]; ok {
			words[i] = abbr
		}
	}
	return strings.Join(words, " ")
}

// NormalizeZipCode returns the five digit ZIP of a ZIP or ZIP+4, or "" for
// anything else.
func NormalizeZipCode(s string) string {
	digits := DigitsOnly(s)
	if len(digits) != 5 && len(digits) != 9 {
		return ""
	}
	return digits[:5]
}
