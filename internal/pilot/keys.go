package pilot

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// keyAliases maps human input to the canonical key names the drivers
// understand. Canonical names are also accepted directly.
var keyAliases = map[string]string{
	"space":     "space",
	"空格":        "space",
	"spacebar":  "space",
	"enter":     "enter",
	"return":    "enter",
	"回车":        "enter",
	"esc":       "esc",
	"escape":    "esc",
	"tab":       "tab",
	"backspace": "backspace",
	"up":        "up",
	"上":         "up",
	"down":      "down",
	"下":         "down",
	"left":      "left",
	"左":         "left",
	"right":     "right",
	"右":         "right",
	"pageup":    "pageup",
	"pagedown":  "pagedown",
	"home":      "home",
	"end":       "end",
}

// ResolveKey maps a user-supplied key name to its canonical form. Single
// printable characters pass through unchanged.
func ResolveKey(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", false
	}
	if canonical, ok := keyAliases[n]; ok {
		return canonical, true
	}
	if utf8.RuneCountInString(n) == 1 {
		r, _ := utf8.DecodeRuneInString(n)
		if r >= '!' && r <= '~' {
			return n, true
		}
	}
	return "", false
}

// KnownKeys lists the canonical named keys, sorted.
func KnownKeys() []string {
	seen := map[string]bool{}
	for _, canonical := range keyAliases {
		seen[canonical] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsQuickAdvance reports whether a bare chat message is the quick-advance
// shorthand.
func IsQuickAdvance(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t == "g" || t == "gal"
}
