// Package highlight implements chat-spike highlight detection over a VOD's
// chat transcript. It partitions the message stream into fixed 30s windows,
// extracts per-window engagement signals (message volume, unique senders,
// sentiment, emote and keyword frequency), scores each window against the
// stream-wide baseline, and merges adjacent high-confidence windows into
// final highlight moments suitable for clipping.
//
// Detection is purely functional: Detect holds no state across calls and is
// safe to run concurrently for different VODs.
package highlight

// ChatMessage is one chat line, timestamped relative to stream start.
// Emotes carries explicit emote names when the source provides them
// (e.g. IRC tags); emotes embedded in Text are matched separately.
type ChatMessage struct {
	TimestampMs int64
	Sender      string
	Text        string
	Emotes      []string
}

// Window is a fixed-size time bucket of messages. Transient: built during
// detection, never persisted.
type Window struct {
	StartMs  int64
	EndMs    int64 // exclusive
	Messages []ChatMessage
}

// Moment is a detected highlight: a time span of elevated engagement with
// the signals that justified it.
type Moment struct {
	StartMs            int64    `json:"start_ms"`
	EndMs              int64    `json:"end_ms"`
	MessageCount       int      `json:"message_count"`
	UniqueSenders      int      `json:"unique_senders"`
	AvgWordsPerMessage float64  `json:"avg_words_per_message"`
	SentimentScore     float64  `json:"sentiment_score"`
	TopEmotes          []string `json:"top_emotes,omitempty"`
	Confidence         float64  `json:"confidence"`
	Keywords           []string `json:"keywords,omitempty"`
	Reason             string   `json:"reason"`
}

// DurationMs returns the moment's span in milliseconds.
func (m Moment) DurationMs() int64 { return m.EndMs - m.StartMs }

const (
	// WindowSizeMs is the fixed detection bucket size.
	WindowSizeMs int64 = 30_000
	// MergeGapMs is the maximum gap between two surviving moments that
	// still collapses them into one.
	MergeGapMs int64 = 60_000
	// MinMessagesForSpike gates confidence scoring: quieter windows score 0.
	MinMessagesForSpike = 5
	// MinConfidence is the filter threshold for emitting a moment.
	MinConfidence = 0.4
	// maxTopItems caps TopEmotes and Keywords per moment.
	maxTopItems = 5
)
