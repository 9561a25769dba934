package statsource

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/proporacle/internal/models"
)

// finite maps NaN and ±Inf to zero.
func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// number decodes a JSON number, numeric string, or null. Anything unparseable or non-finite is zero.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			f = 0
		}
		*n = number(finite(f))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		*n = 0
		return nil
	}
	*n = number(finite(f))
	return nil
}

// minutes decodes playing time given as a number or as "MM" / "MM:SS".
type minutes float64

func (m *minutes) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}
	if b[0] != '"' {
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			f = 0
		}
		*m = minutes(finite(f))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*m = 0
		return nil
	}
	*m = minutes(ParseMinutes(s))
	return nil
}

// ParseMinutes converts "34:30" to 34.5. Malformed or non-finite parts count as zero.
func ParseMinutes(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	mm, ss, _ := strings.Cut(s, ":")
	whole, err := strconv.ParseFloat(mm, 64)
	if err != nil {
		whole = 0
	}
	var secs float64
	if ss != "" {
		if v, err := strconv.ParseFloat(ss, 64); err == nil {
			secs = v
		}
	}
	return finite(finite(whole) + finite(secs)/60)
}

// parseDate accepts "2006-01-02" and RFC3339 forms. Unparseable dates are the zero time.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

type teamPayload struct {
	ID           int64  `json:"id"`
	FullName     string `json:"full_name"`
	Abbreviation string `json:"abbreviation"`
}

type playerPayload struct {
	ID        int64        `json:"id"`
	FirstName string       `json:"first_name"`
	LastName  string       `json:"last_name"`
	Position  string       `json:"position"`
	Team      *teamPayload `json:"team"`
}

func (p playerPayload) toSubject() models.Subject {
	s := models.Subject{
		ID:        p.ID,
		FirstName: strings.TrimSpace(p.FirstName),
		LastName:  strings.TrimSpace(p.LastName),
		Position:  p.Position,
	}
	if p.Team != nil {
		s.Team = p.Team.FullName
		s.TeamAbbrev = p.Team.Abbreviation
	}
	return s
}

type playersResponse struct {
	Data []playerPayload `json:"data"`
}

type gamePayload struct {
	ID   int64  `json:"id"`
	Date string `json:"date"`
}

type statPayload struct {
	ID       int64          `json:"id"`
	Min      minutes        `json:"min"`
	Pts      number         `json:"pts"`
	Reb      number         `json:"reb"`
	Ast      number         `json:"ast"`
	PlayerID int64          `json:"player_id"`
	Player   *playerPayload `json:"player"`
	Game     *gamePayload   `json:"game"`
}

// toObservation returns false when the row cannot be attributed to a player.
func (s statPayload) toObservation() (models.GameObservation, bool) {
	pid := s.PlayerID
	if s.Player != nil && s.Player.ID != 0 {
		pid = s.Player.ID
	}
	if pid <= 0 {
		return models.GameObservation{}, false
	}
	g := models.GameObservation{
		SubjectID: pid,
		Minutes:   float64(s.Min),
		Points:    nonNegative(float64(s.Pts)),
		Rebounds:  nonNegative(float64(s.Reb)),
		Assists:   nonNegative(float64(s.Ast)),
	}
	if s.Game != nil {
		g.GameID = s.Game.ID
		g.Date = parseDate(s.Game.Date)
	}
	if g.Minutes < 0 {
		g.Minutes = 0
	}
	return g, true
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

type statsResponse struct {
	Data []statPayload `json:"data"`
}

type seasonAveragePayload struct {
	PlayerID    int64  `json:"player_id"`
	Season      int    `json:"season"`
	GamesPlayed number `json:"games_played"`
	Pts         number `json:"pts"`
	Reb         number `json:"reb"`
	Ast         number `json:"ast"`
}

type seasonAveragesResponse struct {
	Data []seasonAveragePayload `json:"data"`
}
