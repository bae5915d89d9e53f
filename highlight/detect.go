package highlight

import (
	"sort"
	"strings"
)

// Detect runs the full pipeline: windowing, baseline, signal extraction,
// scoring, filtering, and merging. Output moments are in chronological
// order. Deterministic for identical input content.
func Detect(msgs []ChatMessage) []Moment {
	windows := Partition(msgs)
	if len(windows) == 0 {
		return nil
	}

	total := 0
	for _, w := range windows {
		total += len(w.Messages)
	}
	baseline := float64(total) / float64(len(windows))

	candidates := make([]Moment, 0, len(windows))
	for _, w := range windows {
		sig := ExtractSignals(w)
		conf := Confidence(sig, baseline)
		if sig.MessageCount < MinMessagesForSpike || conf < MinConfidence {
			continue
		}
		candidates = append(candidates, Moment{
			StartMs:            w.StartMs,
			EndMs:              w.EndMs,
			MessageCount:       sig.MessageCount,
			UniqueSenders:      sig.UniqueSenders,
			AvgWordsPerMessage: sig.AvgWordsPerMessage,
			SentimentScore:     sig.SentimentScore,
			TopEmotes:          sig.TopEmotes,
			Confidence:         conf,
			Keywords:           sig.Keywords,
			Reason:             Reason(sig),
		})
	}

	// Rank best-first, then merge. Merge adjacency is a time-order
	// property, so Merge re-sorts by start before scanning.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return Merge(candidates)
}

// Partition splits messages (sorted by timestamp first; out-of-order input
// is tolerated) into fixed non-overlapping windows anchored at the first
// message's timestamp. Windows with no messages are dropped, not
// zero-filled. Membership: start <= ts < start+WindowSizeMs.
func Partition(msgs []ChatMessage) []Window {
	if len(msgs) == 0 {
		return nil
	}
	sorted := make([]ChatMessage, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})

	first := sorted[0].TimestampMs
	last := sorted[len(sorted)-1].TimestampMs
	var windows []Window
	i := 0
	for start := first; start <= last; start += WindowSizeMs {
		end := start + WindowSizeMs
		j := i
		for j < len(sorted) && sorted[j].TimestampMs < end {
			j++
		}
		if j > i {
			windows = append(windows, Window{StartMs: start, EndMs: end, Messages: sorted[i:j]})
		}
		i = j
	}
	return windows
}

// Merge collapses moments whose chronological gap is at most MergeGapMs.
// The merged moment spans both, sums message counts, keeps the max of
// unique senders and confidence (merging never lowers confidence), and
// unions keywords/emotes deduplicated up to the cap. Scalar averages are
// message-count weighted. Idempotent: merging an already-merged list is a
// no-op. Result is chronological.
func Merge(moments []Moment) []Moment {
	if len(moments) <= 1 {
		return moments
	}
	byStart := make([]Moment, len(moments))
	copy(byStart, moments)
	sort.SliceStable(byStart, func(i, j int) bool {
		return byStart[i].StartMs < byStart[j].StartMs
	})

	out := []Moment{byStart[0]}
	for _, next := range byStart[1:] {
		cur := &out[len(out)-1]
		if next.StartMs-cur.EndMs <= MergeGapMs {
			*cur = combine(*cur, next)
			continue
		}
		out = append(out, next)
	}
	return out
}

func combine(a, b Moment) Moment {
	total := a.MessageCount + b.MessageCount
	m := Moment{
		StartMs:       min(a.StartMs, b.StartMs),
		EndMs:         max(a.EndMs, b.EndMs),
		MessageCount:  total,
		UniqueSenders: max(a.UniqueSenders, b.UniqueSenders),
		Confidence:    max(a.Confidence, b.Confidence),
		TopEmotes:     unionCapped(a.TopEmotes, b.TopEmotes, maxTopItems),
		Keywords:      unionCapped(a.Keywords, b.Keywords, maxTopItems),
		Reason:        mergeReasons(a.Reason, b.Reason),
	}
	if total > 0 {
		wa, wb := float64(a.MessageCount), float64(b.MessageCount)
		m.AvgWordsPerMessage = (a.AvgWordsPerMessage*wa + b.AvgWordsPerMessage*wb) / float64(total)
		m.SentimentScore = (a.SentimentScore*wa + b.SentimentScore*wb) / float64(total)
	}
	return m
}

func unionCapped(a, b []string, n int) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, n)
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergeReasons(a, b string) string {
	if a == b {
		return a
	}
	seen := map[string]struct{}{}
	parts := []string{}
	for _, r := range []string{a, b} {
		for _, p := range strings.Split(r, ", ") {
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			parts = append(parts, p)
		}
	}
	// A merged span that fired real signals drops the placeholder.
	if len(parts) > 1 {
		filtered := parts[:0]
		for _, p := range parts {
			if p != "general activity" {
				filtered = append(filtered, p)
			}
		}
		parts = filtered
	}
	return strings.Join(parts, ", ")
}
