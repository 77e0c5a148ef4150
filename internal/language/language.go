// Package language holds the table of conversation languages and the XTTS
// speaker catalogue, and resolves user-supplied names against them.
//
// Names typed on a command line or in a config file are matched leniently:
// an exact key, ISO code or display name wins, otherwise the closest entry by
// Double Metaphone and Jaro-Winkler similarity is accepted when it clears the
// matcher's thresholds. "germna" resolves to German and "ana florense" to
// "Ana Florence".
package language

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknown is returned when a name does not resolve to a language or
// speaker.
var ErrUnknown = errors.New("language: unknown name")

// English is the key of the language the text-generation model works in.
const English = "english"

// Language describes one supported conversation language.
type Language struct {
	// Key is the lowercase identifier used in configuration ("german").
	Key string

	// Code is the ISO-639-1 code passed to STT and TTS providers ("de").
	Code string

	// Name is the display name used in prompts ("German").
	Name string

	// DefaultSpeaker is the XTTS studio speaker used when none is configured.
	DefaultSpeaker string
}

// IsEnglish reports whether l is the model's working language.
func (l Language) IsEnglish() bool { return l.Key == English }

var languages = []Language{
	{Key: "english", Code: "en", Name: "English", DefaultSpeaker: "Daisy Studious"},
	{Key: "portuguese", Code: "pt", Name: "Portuguese", DefaultSpeaker: "Gilberto Mathias"},
	{Key: "spanish", Code: "es", Name: "Spanish", DefaultSpeaker: "Alma María"},
	{Key: "french", Code: "fr", Name: "French", DefaultSpeaker: "Zacharie Aimilios"},
	{Key: "german", Code: "de", Name: "German", DefaultSpeaker: "Brenda Stern"},
	{Key: "dutch", Code: "nl", Name: "Dutch", DefaultSpeaker: "Annmarie Nele"},
	{Key: "italian", Code: "it", Name: "Italian", DefaultSpeaker: "Eugenio Mataracı"},
	{Key: "korean", Code: "ko", Name: "Korean", DefaultSpeaker: "Asya Anara"},
	{Key: "chinese", Code: "zh", Name: "Chinese", DefaultSpeaker: "Xavier Hayasaka"},
	{Key: "russian", Code: "ru", Name: "Russian", DefaultSpeaker: "Lidiya Szekeres"},
}

// speakers is the XTTS v2 studio speaker catalogue.
var speakers = []string{
	"Claribel Dervla", "Daisy Studious", "Gracie Wise", "Tammie Ema",
	"Alison Dietlinde", "Ana Florence", "Annmarie Nele", "Asya Anara",
	"Brenda Stern", "Gitta Nikolina", "Henriette Usha", "Sofia Hellen",
	"Tammy Grit", "Tanja Adelina", "Vjollca Johnnie", "Andrew Chipper",
	"Badr Odhiambo", "Dionisio Schuyler", "Royston Min", "Viktor Eka",
	"Abrahan Mack", "Adde Michal", "Baldur Sanjin", "Craig Gutsy",
	"Damien Black", "Gilberto Mathias", "Ilkin Urbano", "Kazuhiko Atallah",
	"Ludvig Milivoj", "Suad Qasim", "Torcull Diarmuid", "Viktor Menelaos",
	"Zacharie Aimilios", "Nova Hogarth", "Maja Ruoho", "Uta Obando",
	"Lidiya Szekeres", "Chandra MacFarland", "Szofi Granger", "Camilla Holmström",
	"Lilya Stainthorpe", "Zofija Kendrick", "Narelle Moon", "Barbora MacLean",
	"Alexandra Hisakawa", "Alma María", "Rosemary Okafor", "Ige Behringer",
	"Filip Traverse", "Damjan Chapman", "Wulf Carlevaro", "Aaron Dreschner",
	"Kumar Dahl", "Eugenio Mataracı", "Ferran Simen", "Xavier Hayasaka",
	"Luis Moray", "Marcos Rudaski",
}

// All returns every supported language in table order.
func All() []Language { return slices.Clone(languages) }

// Speakers returns the speaker catalogue.
func Speakers() []string { return slices.Clone(speakers) }

// Lookup resolves name to a supported language. name may be a key, an ISO
// code or a display name, in any case, or a close misspelling of a key.
func Lookup(name string) (Language, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return Language{}, fmt.Errorf("%w: empty language", ErrUnknown)
	}
	for _, l := range languages {
		if n == l.Key || n == l.Code || n == strings.ToLower(l.Name) {
			return l, nil
		}
	}

	keys := make([]string, len(languages))
	for i, l := range languages {
		keys[i] = l.Key
	}
	if best, _, ok := defaultMatcher.match(n, keys); ok {
		i := slices.Index(keys, best)
		return languages[i], nil
	}
	return Language{}, fmt.Errorf("%w: language %q", ErrUnknown, name)
}

// ResolveSpeaker returns the catalogue spelling of name. An empty name
// resolves to lang's default speaker.
func ResolveSpeaker(name string, lang Language) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return lang.DefaultSpeaker, nil
	}
	for _, s := range speakers {
		if strings.EqualFold(n, s) {
			return s, nil
		}
	}
	if best, _, ok := defaultMatcher.match(n, speakers); ok {
		return best, nil
	}
	return "", fmt.Errorf("%w: speaker %q", ErrUnknown, name)
}
