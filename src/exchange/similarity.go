package exchange

import (
	"strings"
	"unicode"
)

// honorifics stripped from account holder names before comparison.
var honorifics = []string{"miss", "mr", "mrs", "ms", "dr", "prof"}

// bankAliases maps short and colloquial bank names onto a canonical form so
// that "SCB" and "Siam Commercial Bank" compare equal.
var bankAliases = map[string]string{
	"scb":            "siamcommercialbank",
	"siamcommercial": "siamcommercialbank",
	"ktb":            "krungthaibank",
	"krungthai":      "krungthaibank",
	"kbank":          "kasikorn",
	"kasikornbank":   "kasikorn",
	"bbl":            "bangkokbank",
	"bangkok":        "bangkokbank",
}

// NormalizeName canonicalizes an account holder name for fuzzy comparison:
// lowercase, honorific prefixes removed, everything but letters, digits and
// spaces dropped, then spaces removed.
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	for _, h := range honorifics {
		if strings.HasPrefix(s, h+".") {
			s = strings.TrimSpace(s[len(h)+1:])
			break
		}
		if strings.HasPrefix(s, h+" ") {
			s = strings.TrimSpace(s[len(h)+1:])
			break
		}
	}
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.ReplaceAll(b.String(), " ", "")
}

// Similarity returns a 0..1 score for two names based on edit distance over
// their normalized forms. Two empty normalized names score 0, not 1: a blank
// field must never count as a match.
func Similarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	dist := levenshtein(na, nb)
	longest := len(na)
	if len(nb) > longest {
		longest = len(nb)
	}
	return 1 - float64(dist)/float64(longest)
}

// levenshtein computes edit distance with a rolling single-row DP.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	prev := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur := make([]int, len(rb)+1)
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev = cur
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// normalizeBank lowercases, strips non-alphanumerics and resolves aliases.
func normalizeBank(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if canonical, ok := bankAliases[s]; ok {
		return canonical
	}
	return s
}

// BanksMatch reports whether two bank names refer to the same bank, by
// canonical alias equality or bidirectional substring containment.
func BanksMatch(a, b string) bool {
	na, nb := normalizeBank(a), normalizeBank(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}
