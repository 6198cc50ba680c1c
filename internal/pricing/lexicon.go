package pricing

import "strings"

// officialCurrencies maps the abbreviations the official trade site writes
// into notes to in-game currency names.
var officialCurrencies = map[string]string{
	"alt":                "Orb of Alteration",
	"fuse":               "Orb of Fusing",
	"alch":               "Orb of Alchemy",
	"chaos":              "Chaos Orb",
	"gcp":                "Gemcutter's Prism",
	"exa":                "Exalted Orb",
	"chrom":              "Chromatic Orb",
	"jew":                "Jeweller's Orb",
	"chance":             "Orb of Chance",
	"chisel":             "Cartographer's Chisel",
	"scour":              "Orb of Scouring",
	"blessed":            "Blessed Orb",
	"regret":             "Orb of Regret",
	"regal":              "Regal Orb",
	"divine":             "Divine Orb",
	"vaal":               "Vaal Orb",
	"wis":                "Scroll of Wisdom",
	"port":               "Portal Scroll",
	"aug":                "Orb of Augmentation",
	"tra":                "Orb of Transmutation",
	"mir":                "Mirror of Kalandra",
	"ete":                "Eternal Orb",
	"coin":               "Perandus Coin",
	"silver":             "Silver Coin",
	"annul":              "Orb of Annulment",
	"bauble":             "Glassblower's Bauble",
	"whetstone":          "Blacksmith's Whetstone",
	"scrap":              "Armourer's Scrap",
	"apprentice-sextant": "Apprentice Cartographer's Sextant",
	"journeyman-sextant": "Journeyman Cartographer's Sextant",
	"master-sextant":     "Master Cartographer's Sextant",
	"offer":              "Offering to the Goddess",
}

// communityCurrencies maps common player shorthand to in-game currency
// names. Keys never overlap officialCurrencies.
var communityCurrencies = map[string]string{
	"c":            "Chaos Orb",
	"ch":           "Chaos Orb",
	"choas":        "Chaos Orb",
	"ex":           "Exalted Orb",
	"exalt":        "Exalted Orb",
	"exalts":       "Exalted Orb",
	"exalted":      "Exalted Orb",
	"exas":         "Exalted Orb",
	"alts":         "Orb of Alteration",
	"alteration":   "Orb of Alteration",
	"fus":          "Orb of Fusing",
	"fusing":       "Orb of Fusing",
	"fusings":      "Orb of Fusing",
	"fuses":        "Orb of Fusing",
	"alc":          "Orb of Alchemy",
	"alchs":        "Orb of Alchemy",
	"alchemy":      "Orb of Alchemy",
	"chrome":       "Chromatic Orb",
	"chromes":      "Chromatic Orb",
	"chromatic":    "Chromatic Orb",
	"jewellers":    "Jeweller's Orb",
	"jewelers":     "Jeweller's Orb",
	"jews":         "Jeweller's Orb",
	"chisels":      "Cartographer's Chisel",
	"cartographer": "Cartographer's Chisel",
	"scours":       "Orb of Scouring",
	"scouring":     "Orb of Scouring",
	"regrets":      "Orb of Regret",
	"regals":       "Regal Orb",
	"div":          "Divine Orb",
	"divines":      "Divine Orb",
	"vaals":        "Vaal Orb",
	"wisdom":       "Scroll of Wisdom",
	"portal":       "Portal Scroll",
	"augs":         "Orb of Augmentation",
	"augmentation": "Orb of Augmentation",
	"trans":        "Orb of Transmutation",
	"transmute":    "Orb of Transmutation",
	"mirror":       "Mirror of Kalandra",
	"kalandra":     "Mirror of Kalandra",
	"eternal":      "Eternal Orb",
	"coins":        "Perandus Coin",
	"perandus":     "Perandus Coin",
	"gcps":         "Gemcutter's Prism",
	"gemcutter":    "Gemcutter's Prism",
	"prism":        "Gemcutter's Prism",
	"bless":        "Blessed Orb",
	"chances":      "Orb of Chance",
	"annuls":       "Orb of Annulment",
	"annulment":    "Orb of Annulment",
	"baubles":      "Glassblower's Bauble",
}

// Lexicon resolves currency tokens found in notes. Besides the static
// tables it knows every currency name observed in the summary store, which
// is rebuilt once per pricing pass.
type Lexicon struct {
	observed map[string]string
}

// NewLexicon indexes the observed currency names under their lower-case,
// dashed and apostrophe-free spellings.
func NewLexicon(observed []string) *Lexicon {
	m := make(map[string]string, len(observed)*4)
	for _, name := range observed {
		low := strings.ToLower(strings.TrimSpace(name))
		if low == "" {
			continue
		}
		clean := strings.ReplaceAll(low, "'", "")
		m[low] = name
		m[clean] = name
		m[dashed(low)] = name
		m[dashed(clean)] = name
	}
	return &Lexicon{observed: m}
}

// Lookup resolves token against the official table, the community table and
// the observed names, in that order.
func (l *Lexicon) Lookup(token string) (string, bool) {
	low := strings.ToLower(strings.TrimSpace(token))
	if name, ok := officialCurrencies[low]; ok {
		return name, true
	}
	if name, ok := communityCurrencies[low]; ok {
		return name, true
	}
	if l != nil {
		if name, ok := l.observed[low]; ok {
			return name, true
		}
	}
	return "", false
}

// Len returns the number of observed spellings.
func (l *Lexicon) Len() int {
	if l == nil {
		return 0
	}
	return len(l.observed)
}

func dashed(s string) string {
	return strings.Join(strings.Fields(s), "-")
}
