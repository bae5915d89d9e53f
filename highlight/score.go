package highlight

import "strings"

// Confidence converts window signals plus the stream-wide baseline
// (average messages per non-empty window) into a [0,1] score. Windows
// below the spike floor score zero outright.
func Confidence(s Signals, avgMessagesPerWindow float64) float64 {
	if s.MessageCount < MinMessagesForSpike {
		return 0
	}
	score := 0.5
	if avgMessagesPerWindow > 0 {
		score += 0.3 * min(float64(s.MessageCount)/(avgMessagesPerWindow*1.5), 1)
	}
	if s.MessageCount > 0 {
		score += 0.1 * min(float64(s.UniqueSenders)/float64(s.MessageCount), 1)
	}
	score += 0.1 * min(float64(s.EmoteCount)/3, 1)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Reason describes which signals fired for a window, for operator-facing
// display on the clip record.
func Reason(s Signals) string {
	parts := make([]string, 0, 4)
	if s.MessageCount >= MinMessagesForSpike {
		parts = append(parts, "activity spike")
	}
	if s.SentimentScore > 0.5 {
		parts = append(parts, "positive reaction")
	}
	if s.SentimentScore < -0.5 {
		parts = append(parts, "dramatic moment")
	}
	if s.EmoteCount >= 3 {
		parts = append(parts, "high emote usage")
	}
	if len(parts) == 0 {
		return "general activity"
	}
	return strings.Join(parts, ", ")
}
