package highlight

import (
	"strings"
)

// Fixed vocabularies for signal extraction. Matching is case-insensitive
// substring against the message text, mirroring how chat slang and emotes
// appear inline rather than as discrete tokens.
var positiveLexicon = []string{
	"pog", "poggers", "pogchamp", "lets go", "letsgo", "lfg", "hype",
	"insane", "clutch", "cracked", "amazing", "awesome", "crazy good",
	"holy", "no way", "gg", "love this", "goated", "banger", "w streamer",
}

var negativeLexicon = []string{
	"sadge", "pepehands", "notlikethis", "ripbozo", "yikes", "oof",
	"pain", "throwing", "thrown", "bruh", "cringe", "awful", "terrible",
	"trash", "l streamer", "choked", "tilted",
}

// knownEmotes is the emote vocabulary counted inside message text in
// addition to any explicit Emotes field values.
var knownEmotes = []string{
	"Kappa", "PogChamp", "LUL", "OMEGALUL", "KEKW", "monkaS", "Pepega",
	"Sadge", "PepeLaugh", "5Head", "EZ", "Clap", "catJAM", "POGGERS",
	"widepeepoHappy", "peepoHappy", "Jebaited", "ResidentSleeper",
	"BibleThump", "NotLikeThis", "PepeHands", "DansGame", "4Head",
	"BabyRage", "Kreygasm", "TriHard", "HeyGuys", "VoHiYo",
}

// stopwords excluded from keyword ranking, including common chat filler.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "this": {}, "with": {},
	"you": {}, "was": {}, "are": {}, "have": {}, "has": {}, "had": {},
	"not": {}, "but": {}, "they": {}, "them": {}, "what": {}, "when": {},
	"your": {}, "just": {}, "like": {}, "get": {}, "got": {}, "out": {},
	"all": {}, "can": {}, "will": {}, "one": {}, "about": {}, "there": {},
	"from": {}, "him": {}, "her": {}, "his": {}, "she": {}, "were": {},
	"been": {}, "would": {}, "could": {}, "should": {}, "really": {},
	"very": {}, "too": {}, "now": {}, "then": {}, "some": {}, "more": {},
	"how": {}, "why": {}, "who": {}, "did": {}, "does": {}, "dont": {},
	"its": {}, "here": {}, "lol": {}, "lmao": {}, "omg": {}, "wtf": {},
	"yeah": {}, "yes": {}, "nah": {}, "bro": {}, "dude": {}, "man": {},
}

// Signals are the per-window features feeding the confidence score.
type Signals struct {
	MessageCount       int
	UniqueSenders      int
	AvgWordsPerMessage float64
	SentimentScore     float64
	EmoteCount         int
	TopEmotes          []string
	Keywords           []string
}

// ExtractSignals computes all features for one window.
func ExtractSignals(w Window) Signals {
	s := Signals{MessageCount: len(w.Messages)}
	if len(w.Messages) == 0 {
		return s
	}

	senders := make(map[string]struct{}, len(w.Messages))
	totalWords := 0
	posHits, negHits := 0, 0
	emoteCounts := map[string]int{}
	emoteOrder := []string{}
	wordCounts := map[string]int{}
	wordOrder := []string{}

	countEmote := func(name string, n int) {
		if n <= 0 {
			return
		}
		if _, seen := emoteCounts[name]; !seen {
			emoteOrder = append(emoteOrder, name)
		}
		emoteCounts[name] += n
	}

	for _, m := range w.Messages {
		senders[m.Sender] = struct{}{}
		totalWords += len(strings.Fields(m.Text))
		lower := strings.ToLower(m.Text)
		for _, tok := range positiveLexicon {
			posHits += strings.Count(lower, tok)
		}
		for _, tok := range negativeLexicon {
			negHits += strings.Count(lower, tok)
		}
		for _, e := range knownEmotes {
			countEmote(e, strings.Count(lower, strings.ToLower(e)))
		}
		for _, e := range m.Emotes {
			if e != "" {
				countEmote(e, 1)
			}
		}
		for _, kw := range keywordTokens(lower) {
			if _, seen := wordCounts[kw]; !seen {
				wordOrder = append(wordOrder, kw)
			}
			wordCounts[kw]++
		}
	}

	s.UniqueSenders = len(senders)
	s.AvgWordsPerMessage = float64(totalWords) / float64(len(w.Messages))
	if posHits+negHits > 0 {
		s.SentimentScore = float64(posHits-negHits) / float64(posHits+negHits)
	}
	for _, c := range emoteCounts {
		s.EmoteCount += c
	}
	s.TopEmotes = topByCount(emoteOrder, emoteCounts, maxTopItems)
	s.Keywords = topByCount(wordOrder, wordCounts, maxTopItems)
	return s
}

// keywordTokens splits lowercased text into candidate keywords: stripped of
// non-alphanumerics, longer than two characters, and not stopwords.
func keywordTokens(lower string) []string {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// topByCount returns up to n keys ordered by descending count; ties keep
// first-seen order, which `order` preserves.
func topByCount(order []string, counts map[string]int, n int) []string {
	if len(order) == 0 {
		return nil
	}
	ranked := make([]string, len(order))
	copy(ranked, order)
	// Stable insertion sort: first-seen order survives equal counts.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && counts[ranked[j]] > counts[ranked[j-1]]; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
