package synthesis

import (
	"fmt"
	"math"

	"github.com/rewired-gh/proporacle/internal/models"
)

const (
	fallbackSentimentWeight = "Low (10%)"
	fallbackStatWeight      = "Primary (90%)"
)

// Fallback is the deterministic verdict used when arbitration is unavailable.
func Fallback(req ReportRequest) Verdict {
	sc := req.StatContext
	s := 0.0
	if req.Sentiment != nil {
		s = req.Sentiment.OverallScore
	}

	v := Verdict{
		Prediction:      models.PredictionNeutral,
		Confidence:      0.50,
		SentimentWeight: fallbackSentimentWeight,
		StatWeight:      fallbackStatWeight,
		KeyFactors:      []string{},
	}

	if sc != nil && sc.GamesQualified >= 5 {
		delta5 := sc.RecentMean5 - sc.Line
		hit := sc.OverHitRate
		switch {
		case delta5 > 1.5 && hit >= 0.6:
			v.Prediction = models.PredictionOver
			v.Confidence = math.Min(0.72, 0.55+math.Abs(delta5)*0.03+(hit-0.5)*0.3)
		case delta5 < -1.5 && hit <= 0.4:
			v.Prediction = models.PredictionUnder
			v.Confidence = math.Min(0.72, 0.55+math.Abs(delta5)*0.03+(0.5-hit)*0.3)
		case math.Abs(s) > 0.15:
			v.Prediction = sentimentSide(s)
			v.Confidence = 0.50 + math.Abs(s)*0.15
		}
		if sc.StdDev > 7 {
			v.Confidence = math.Max(0.45, v.Confidence-0.08)
		}
	} else if math.Abs(s) > 0.15 {
		v.Prediction = sentimentSide(s)
		v.Confidence = 0.50 + math.Abs(s)*0.2
	}

	if sc != nil {
		v.Reasoning = fmt.Sprintf("Heuristic: L5 avg %g vs line %g (%s), hit rate %.0f%% over last %d.",
			sc.RecentMean5, sc.Line, signed(sc.RecentMean5-sc.Line), sc.OverHitRate*100, sc.GamesQualified)
		v.KeyFactors = []string{
			fmt.Sprintf("L5 avg: %g vs line %g (%s)", sc.RecentMean5, sc.Line, signed(sc.RecentMean5-sc.Line)),
			fmt.Sprintf("Over hit rate L%d: %.0f%%", sc.GamesQualified, sc.OverHitRate*100),
			fmt.Sprintf("Consistency: %s (σ=%g)", consistencyLabel(sc.StdDev), sc.StdDev),
			streakLabel(sc.Streak),
		}
	} else {
		v.Reasoning = fmt.Sprintf("Heuristic: insufficient data for %s %s.", req.SubjectName, req.Measure.Label())
	}
	return v
}

func sentimentSide(s float64) models.Prediction {
	if s > 0 {
		return models.PredictionOver
	}
	return models.PredictionUnder
}
