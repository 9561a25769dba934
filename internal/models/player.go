// Package models defines the core domain entities: players, game observations, signals and reports.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Subject is a player as listed by the upstream stats provider.
type Subject struct {
	ID         int64  `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Position   string `json:"position,omitempty"`
	Team       string `json:"team,omitempty"`
	TeamAbbrev string `json:"team_abbrev,omitempty"`
}

// FullName returns "First Last".
func (s Subject) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Validate checks subject field constraints.
func (s *Subject) Validate() error {
	if s.ID <= 0 {
		return errors.New("subject ID must be positive")
	}
	if s.FullName() == "" {
		return errors.New("subject name must not be empty")
	}
	return nil
}

// GameObservation is one player's box-score line for one completed game.
// Values are normalized at the statsource boundary; missing numbers are zero.
type GameObservation struct {
	SubjectID int64     `json:"subject_id"`
	GameID    int64     `json:"game_id"`
	Date      time.Time `json:"date"`
	Minutes   float64   `json:"minutes"`
	Points    float64   `json:"pts"`
	Rebounds  float64   `json:"reb"`
	Assists   float64   `json:"ast"`
}

// Validate checks observation field constraints.
func (g *GameObservation) Validate() error {
	if g.SubjectID <= 0 {
		return errors.New("observation subject ID must be positive")
	}
	if g.Minutes < 0 {
		return errors.New("minutes must not be negative")
	}
	if g.Points < 0 || g.Rebounds < 0 || g.Assists < 0 {
		return errors.New("counting stats must not be negative")
	}
	return nil
}

// Baseline is a season-average row from the dedicated season averages endpoint.
type Baseline struct {
	SubjectID   int64   `json:"subject_id"`
	Season      int     `json:"season"`
	GamesPlayed int     `json:"games_played"`
	Points      float64 `json:"pts"`
	Rebounds    float64 `json:"reb"`
	Assists     float64 `json:"ast"`
}

// Measure names a tracked statistical quantity.
type Measure string

const (
	MeasurePoints   Measure = "pts"
	MeasureRebounds Measure = "reb"
	MeasureAssists  Measure = "ast"
	// MeasurePRA is the composite points + rebounds + assists.
	MeasurePRA Measure = "pra"
)

// ParseMeasure accepts short keys and the long prop names used by the research endpoints.
func ParseMeasure(s string) (Measure, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pts", "points":
		return MeasurePoints, nil
	case "reb", "rebounds":
		return MeasureRebounds, nil
	case "ast", "assists":
		return MeasureAssists, nil
	case "pra", "combined":
		return MeasurePRA, nil
	default:
		return "", fmt.Errorf("unknown measure %q", s)
	}
}

// Label is the short upper-case display name.
func (m Measure) Label() string {
	return strings.ToUpper(string(m))
}

// Value extracts the measure from one observation. Composites are summed per game.
func (m Measure) Value(g GameObservation) float64 {
	switch m {
	case MeasurePoints:
		return g.Points
	case MeasureRebounds:
		return g.Rebounds
	case MeasureAssists:
		return g.Assists
	case MeasurePRA:
		return g.Points + g.Rebounds + g.Assists
	default:
		return 0
	}
}

// BaselineValue extracts the measure from a season-average row.
func (m Measure) BaselineValue(b Baseline) float64 {
	switch m {
	case MeasurePoints:
		return b.Points
	case MeasureRebounds:
		return b.Rebounds
	case MeasureAssists:
		return b.Assists
	case MeasurePRA:
		return b.Points + b.Rebounds + b.Assists
	default:
		return 0
	}
}
