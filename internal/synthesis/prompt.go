package synthesis

import (
	"fmt"
	"math"
	"strings"

	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/momentum"
)

const maxPromptMentions = 5

func signed(x float64) string {
	x = momentum.Round1(x)
	if x >= 0 {
		return fmt.Sprintf("+%g", x)
	}
	return fmt.Sprintf("%g", x)
}

func consistencyLabel(sd float64) string {
	switch {
	case sd < 3:
		return "very consistent"
	case sd < 5:
		return "consistent"
	case sd < 7:
		return "moderate variance"
	case sd < 10:
		return "high variance"
	default:
		return "very high variance"
	}
}

func streakLabel(s int) string {
	switch {
	case s == 0:
		return "No active streak"
	case s > 0:
		return fmt.Sprintf("%d consecutive OVERs", s)
	default:
		return fmt.Sprintf("%d consecutive UNDERs", -s)
	}
}

func sentimentLine(s *models.SentimentScore, withKeywords bool) string {
	if s == nil {
		return "No sentiment data"
	}
	line := fmt.Sprintf("Score: %.0f%% | Volume: %d", s.OverallScore*100, s.Volume)
	if withKeywords {
		line += " | Keywords: " + strings.Join(s.Keywords, ", ")
	}
	return line
}

func hasStats(sc *models.StatContext) bool {
	return sc != nil && sc.GamesQualified >= 3
}

// BuildPrompt renders the arbitration prompt for a report request.
func BuildPrompt(req ReportRequest) string {
	var b strings.Builder
	label := req.Measure.Label()
	sc := req.StatContext

	if !hasStats(sc) {
		b.WriteString("You are an expert NBA prop analyst.\n")
		fmt.Fprintf(&b, "Player: %s | Prop: %s\n", req.SubjectName, label)
		fmt.Fprintf(&b, "Insufficient recent game data. Social sentiment: %s\n", sentimentLine(req.Sentiment, false))
		b.WriteString("Respond ONLY with valid JSON:\n")
		b.WriteString(`{"prediction":"neutral","confidence":40,"reasoning":"Insufficient data.","key_factors":["No recent game data"],"sentiment_weight":"N/A","stat_weight":"N/A"}`)
		return b.String()
	}

	games := make([]string, 0, len(sc.RecentValues))
	for _, v := range sc.RecentValues {
		d := v - sc.Line
		mark := "="
		switch {
		case math.Abs(d) < 0.5:
		case d > 0:
			mark = "↑"
		default:
			mark = "↓"
		}
		games = append(games, fmt.Sprintf("%g%s", v, mark))
	}

	b.WriteString("You are an expert NBA prop betting analyst focused on finding edges.\n")
	fmt.Fprintf(&b, "Player: %s | Prop: %s | Line: %g\n", req.SubjectName, label, momentum.Round1(sc.Line))
	fmt.Fprintf(&b, "Last 10 games: %s\n", strings.Join(games, ", "))
	fmt.Fprintf(&b, "Hit rate L10: %.0f%% | L5 avg: %g (%s) | L10 avg: %g (%s)\n",
		sc.OverHitRate*100,
		sc.RecentMean5, signed(sc.RecentMean5-sc.Line),
		sc.RecentMean10, signed(sc.RecentMean10-sc.Line))
	fmt.Fprintf(&b, "Std dev: %g (%s) | Streak: %s\n", sc.StdDev, consistencyLabel(sc.StdDev), streakLabel(sc.Streak))
	fmt.Fprintf(&b, "Sentiment: %s\n", sentimentLine(req.Sentiment, true))

	mentions := req.Mentions
	if len(mentions) > maxPromptMentions {
		mentions = mentions[:maxPromptMentions]
	}
	for _, m := range mentions {
		fmt.Fprintf(&b, "- %s (%s)\n", m.Content, m.Source)
	}

	b.WriteString("Respond ONLY with valid JSON:\n")
	b.WriteString(`{"prediction":"over"|"under"|"neutral","confidence":0-100,"reasoning":"<2-3 sentences>","key_factors":["..."],"sentiment_weight":"<e.g. Low (10%)>","stat_weight":"<e.g. Primary (90%)>"}`)
	return b.String()
}
