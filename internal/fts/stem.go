package fts

import "strings"

// stem implements the classic Porter stemming algorithm (Porter, 1980).
// No third-party stemming library appears anywhere in the example pack
// (checked across every go.mod and other_examples/ file for
// snowball/porter/bleve imports), so this is hand-rolled directly on the
// standard library, as recorded in DESIGN.md.
func stem(w string) string {
	if len(w) <= 2 {
		return w
	}
	w = step1a(w)
	w = step1b(w)
	w = step1c(w)
	w = step2(w)
	w = step3(w)
	w = step4(w)
	w = step5a(w)
	w = step5b(w)
	return w
}

func isVowel(w string, i int) bool {
	switch w[i] {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	case 'y':
		if i == 0 {
			return false
		}
		return !isVowel(w, i-1)
	}
	return false
}

// measure counts the number of VC sequences in w (Porter's "m").
func measure(w string) int {
	n := 0
	i := 0
	// skip initial consonants
	for i < len(w) && !isVowel(w, i) {
		i++
	}
	for i < len(w) {
		for i < len(w) && isVowel(w, i) {
			i++
		}
		if i >= len(w) {
			break
		}
		for i < len(w) && !isVowel(w, i) {
			i++
		}
		n++
	}
	return n
}

func containsVowel(w string) bool {
	for i := range w {
		if isVowel(w, i) {
			return true
		}
	}
	return false
}

func endsDoubleConsonant(w string) bool {
	n := len(w)
	if n < 2 {
		return false
	}
	if w[n-1] != w[n-2] {
		return false
	}
	return !isVowel(w, n-1)
}

// endsCVC reports whether w ends consonant-vowel-consonant, with the
// final consonant not w, x or y.
func endsCVC(w string) bool {
	n := len(w)
	if n < 3 {
		return false
	}
	if isVowel(w, n-3) || !isVowel(w, n-2) || isVowel(w, n-1) {
		return false
	}
	switch w[n-1] {
	case 'w', 'x', 'y':
		return false
	}
	return true
}

func replaceSuffix(w, suffix, repl string, minMeasure int) (string, bool) {
	if !strings.HasSuffix(w, suffix) {
		return w, false
	}
	stem := w[:len(w)-len(suffix)]
	if measure(stem) > minMeasure-1 {
		return stem + repl, true
	}
	return w, false
}

func step1a(w string) string {
	switch {
	case strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ies"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"):
		return w
	case strings.HasSuffix(w, "s") && len(w) > 1:
		return w[:len(w)-1]
	}
	return w
}

func step1b(w string) string {
	if strings.HasSuffix(w, "eed") {
		stem := w[:len(w)-3]
		if measure(stem) > 0 {
			return stem + "ee"
		}
		return w
	}
	restore := false
	stem := w
	if strings.HasSuffix(w, "ed") && containsVowel(w[:len(w)-2]) {
		stem = w[:len(w)-2]
		restore = true
	} else if strings.HasSuffix(w, "ing") && containsVowel(w[:len(w)-3]) {
		stem = w[:len(w)-3]
		restore = true
	}
	if !restore {
		return w
	}
	switch {
	case strings.HasSuffix(stem, "at"), strings.HasSuffix(stem, "bl"), strings.HasSuffix(stem, "iz"):
		return stem + "e"
	case endsDoubleConsonant(stem) && !strings.HasSuffix(stem, "l") && !strings.HasSuffix(stem, "s") && !strings.HasSuffix(stem, "z"):
		return stem[:len(stem)-1]
	case measure(stem) == 1 && endsCVC(stem):
		return stem + "e"
	}
	return stem
}

func step1c(w string) string {
	if strings.HasSuffix(w, "y") && len(w) > 1 && containsVowel(w[:len(w)-1]) {
		return w[:len(w)-1] + "i"
	}
	return w
}

var step2Suffixes = [][2]string{
	{"ational", "ate"}, {"tional", "tion"}, {"enci", "ence"}, {"anci", "ance"},
	{"izer", "ize"}, {"abli", "able"}, {"alli", "al"}, {"entli", "ent"},
	{"eli", "e"}, {"ousli", "ous"}, {"ization", "ize"}, {"ation", "ate"},
	{"ator", "ate"}, {"alism", "al"}, {"iveness", "ive"}, {"fulness", "ful"},
	{"ousness", "ous"}, {"aliti", "al"}, {"iviti", "ive"}, {"biliti", "ble"},
}

func step2(w string) string {
	for _, s := range step2Suffixes {
		if r, ok := replaceSuffix(w, s[0], s[1], 1); ok {
			return r
		}
	}
	return w
}

var step3Suffixes = [][2]string{
	{"icate", "ic"}, {"ative", ""}, {"alize", "al"}, {"iciti", "ic"},
	{"ical", "ic"}, {"ful", ""}, {"ness", ""},
}

func step3(w string) string {
	for _, s := range step3Suffixes {
		if r, ok := replaceSuffix(w, s[0], s[1], 1); ok {
			return r
		}
	}
	return w
}

var step4Suffixes = []string{
	"al", "ance", "ence", "er", "ic", "able", "ible", "ant", "ement",
	"ment", "ent", "ou", "ism", "ate", "iti", "ous", "ive", "ize",
}

func step4(w string) string {
	for _, suf := range step4Suffixes {
		if !strings.HasSuffix(w, suf) {
			continue
		}
		stem := w[:len(w)-len(suf)]
		if suf == "ion" || suf == "ent" {
			// handled via the generic set below; ion needs special s/t check
		}
		if measure(stem) > 1 {
			return stem
		}
		return w
	}
	if strings.HasSuffix(w, "ion") {
		stem := w[:len(w)-3]
		if measure(stem) > 1 && len(stem) > 0 && (stem[len(stem)-1] == 's' || stem[len(stem)-1] == 't') {
			return stem
		}
	}
	return w
}

func step5a(w string) string {
	if strings.HasSuffix(w, "e") {
		stem := w[:len(w)-1]
		m := measure(stem)
		if m > 1 {
			return stem
		}
		if m == 1 && !endsCVC(stem) {
			return stem
		}
	}
	return w
}

func step5b(w string) string {
	if measure(w) > 1 && endsDoubleConsonant(w) && strings.HasSuffix(w, "l") {
		return w[:len(w)-1]
	}
	return w
}
