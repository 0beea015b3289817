package catalog

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a clip to count
// as a fuzzy match when the query is not a substring of the name.
const fuzzyThreshold = 0.72

// Filter narrows items to those matching the query. With fuzzy disabled the
// match is a case-insensitive substring test. With fuzzy enabled, substring
// matches rank first (prefix matches ahead of later positions), followed by
// clips whose name is Jaro-Winkler-similar to the query above the threshold,
// best similarity first.
func Filter(items []Item, query string, fuzzy bool) []Item {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return items
	}

	if !fuzzy {
		var out []Item
		for _, it := range items {
			if strings.Contains(strings.ToLower(it.Name), q) {
				out = append(out, it)
			}
		}
		return out
	}

	type scored struct {
		Item
		score float64
	}
	var matched []scored
	for _, it := range items {
		name := strings.ToLower(it.Name)
		switch {
		case name == q:
			matched = append(matched, scored{it, 3})
		case strings.HasPrefix(name, q):
			matched = append(matched, scored{it, 2})
		case strings.Contains(name, q):
			// Earlier positions rank higher.
			pos := strings.Index(name, q)
			matched = append(matched, scored{it, 1.5 - float64(pos)/float64(len(name)+1)/2})
		default:
			if s := matchr.JaroWinkler(name, q, false); s >= fuzzyThreshold {
				matched = append(matched, scored{it, s})
			}
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score > matched[j].score
		}
		return matched[i].Name < matched[j].Name
	})

	out := make([]Item, len(matched))
	for i, m := range matched {
		out[i] = m.Item
	}
	return out
}
