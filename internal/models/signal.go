package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// StatContext summarizes a player's recent form against a baseline for one measure.
type StatContext struct {
	Line           float64   `json:"line"`
	RecentMean5    float64   `json:"recent_mean_5"`
	RecentMean10   float64   `json:"recent_mean_10"`
	StdDev         float64   `json:"std_dev"`
	OverHitRate    float64   `json:"over_hit_rate"`
	Streak         int       `json:"streak"`
	RecentValues   []float64 `json:"recent_values"` // most recent first
	GamesQualified int       `json:"games_qualified"`
	GamesPlayed    int       `json:"games_played"`
	BaselineSource string    `json:"baseline_source"`
}

const (
	BaselineFromSeasonAverages = "season_averages"
	BaselineFromGameLogs       = "game_logs"
)

// EdgeEntry is one player's row in a roster-wide momentum scan.
type EdgeEntry struct {
	SubjectID   int64     `json:"player_id"`
	Name        string    `json:"player_name"`
	Team        string    `json:"team"`
	TeamAbbrev  string    `json:"team_abbrev"`
	SeasonAvg   float64   `json:"season_avg"`
	RecentAvg   float64   `json:"recent_avg"`
	Delta       float64   `json:"delta"`
	Last5       []float64 `json:"last5"`
	GamesPlayed int       `json:"games_played"`
}

// FeedStats counts what survived each stage of a scan.
type FeedStats struct {
	RosterSize             int `json:"roster_size"`
	ObservationsFetched    int `json:"observations_fetched"`
	ObservationsQualifying int `json:"observations_qualifying"`
	SubjectsGrouped        int `json:"subjects_grouped"`
	CandidatesBeforeSort   int `json:"candidates_before_sort"`
}

// EdgeFeed is the ranked output of a roster-wide scan.
type EdgeFeed struct {
	Entries     []EdgeEntry `json:"data"`
	Measure     Measure     `json:"stat"`
	Season      int         `json:"season"`
	MinMinutes  float64     `json:"min_minutes"`
	GeneratedAt time.Time   `json:"generated_at"`
	Partial     bool        `json:"partial"`
	FailedPages []int       `json:"failed_pages,omitempty"`
	Stats       FeedStats   `json:"stats"`
}

// Mention is a short social or news text about a player.
type Mention struct {
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	URL        string    `json:"url"`
	Timestamp  time.Time `json:"timestamp"`
	Engagement float64   `json:"engagement,omitempty"` // upvotes or similar; 0 when unknown
}

// SentimentScore is the keyword polarity over a mention list.
type SentimentScore struct {
	OverallScore   float64  `json:"overall_score"`
	Volume         int      `json:"volume"`
	Keywords       []string `json:"keywords"`
	BullishSignals int      `json:"bullish_signals"`
	BearishSignals int      `json:"bearish_signals"`
}

// Prediction is the direction of a report.
type Prediction string

const (
	PredictionOver    Prediction = "over"
	PredictionUnder   Prediction = "under"
	PredictionNeutral Prediction = "neutral"
)

// ParsePrediction maps free text to a prediction; anything unknown is neutral.
func ParsePrediction(s string) Prediction {
	p := Prediction(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PredictionOver, PredictionUnder:
		return p
	default:
		return PredictionNeutral
	}
}

// Report is the synthesis output for one player and measure. Never mutated after creation.
type Report struct {
	SubjectName     string     `json:"player_name"`
	Measure         Measure    `json:"prop_type"`
	Prediction      Prediction `json:"prediction"`
	Confidence      float64    `json:"confidence"`
	Reasoning       string     `json:"reasoning"`
	KeyFactors      []string   `json:"key_factors"`
	SentimentWeight string     `json:"sentiment_weight"`
	StatWeight      string     `json:"stat_weight"`
	GeneratedAt     time.Time  `json:"generated_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	UsedFallback    bool       `json:"used_fallback"`

	// Inputs the report was built from, kept so cached reads return them too.
	StatContext *StatContext    `json:"stat_context,omitempty"`
	Sentiment   *SentimentScore `json:"sentiment,omitempty"`
}

// Validate checks report field constraints.
func (r *Report) Validate() error {
	if r.SubjectName == "" {
		return errors.New("report subject must not be empty")
	}
	switch r.Prediction {
	case PredictionOver, PredictionUnder, PredictionNeutral:
	default:
		return fmt.Errorf("invalid prediction %q", r.Prediction)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return errors.New("confidence must be between 0.0 and 1.0")
	}
	if !r.ExpiresAt.After(r.GeneratedAt) {
		return errors.New("expires at must be after generated at")
	}
	return nil
}

// Direction selects which side of an edge an alert run is looking for.
type Direction string

const (
	DirectionOver  Direction = "over"
	DirectionUnder Direction = "under"
	DirectionBoth  Direction = "both"
)

// ParseDirection defaults unknown input to both.
func ParseDirection(s string) Direction {
	switch Direction(s) {
	case DirectionOver, DirectionUnder:
		return Direction(s)
	default:
		return DirectionBoth
	}
}

// Matches reports whether delta clears minDelta on this direction's side.
func (d Direction) Matches(delta, minDelta float64) bool {
	switch d {
	case DirectionOver:
		return delta >= minDelta
	case DirectionUnder:
		return delta <= -minDelta
	default:
		return delta >= minDelta || delta <= -minDelta
	}
}

// AlertRecord is one notified edge, kept as alert history.
type AlertRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	SubjectID int64     `json:"player_id"`
	Name      string    `json:"player_name"`
	Measure   Measure   `json:"stat"`
	Direction Direction `json:"direction"`
	Delta     float64   `json:"delta"`
	SentAt    time.Time `json:"sent_at"`
}

// AlertBatch is one outbound notification of edge entries.
type AlertBatch struct {
	Entries    []EdgeEntry `json:"entries"`
	Measure    Measure     `json:"stat"`
	Direction  Direction   `json:"direction"`
	MinMinutes float64     `json:"min_minutes"`
	Season     int         `json:"season"`
}
