package agent

import "sort"

// builtinCategories maps the spending categories the service knows out of
// the box to the transaction description keywords that identify them.
// User preference keys extend this set per user.
var builtinCategories = map[string][]string{
	"food":           {"food", "restaurant", "dining", "coffee", "lunch", "dinner", "grocery"},
	"coffee":         {"coffee", "starbucks", "cafe", "espresso"},
	"entertainment":  {"movie", "game", "entertainment", "netflix", "spotify", "subscription"},
	"transportation": {"gas", "fuel", "uber", "lyft", "taxi", "transport", "parking"},
	"shopping":       {"amazon", "store", "shopping", "retail", "clothes", "clothing"},
	"utilities":      {"electric", "water", "internet", "phone", "utility", "bill"},
	"healthcare":     {"doctor", "pharmacy", "medical", "health", "hospital"},
	"education":      {"school", "university", "course", "book", "education", "learning"},
}

// KnownCategories returns the sorted union of built-in categories and the
// user's preference keys. Used to bias intent extraction and to validate
// extracted categories.
func KnownCategories(preferenceKeys []string) []string {
	set := make(map[string]struct{}, len(builtinCategories)+len(preferenceKeys))
	for c := range builtinCategories {
		set[c] = struct{}{}
	}
	for _, c := range preferenceKeys {
		set[c] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CategoryKeywords returns the description keywords for a category. Unknown
// categories match their own name only.
func CategoryKeywords(category string) []string {
	if kw, ok := builtinCategories[category]; ok {
		return kw
	}
	return []string{category}
}
