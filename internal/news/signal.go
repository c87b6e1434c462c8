package news

import (
	"time"

	"hightrade/internal/types"
)

// topArticleLimit bounds how many article ids a signal carries.
const topArticleLimit = 5

// BuildSignal condenses a deduplicated batch into the cycle's NewsSignal.
// The score weighs urgency, recency, and sentiment the same way for every
// batch so cycle-over-cycle comparisons stay meaningful.
func BuildSignal(cycleID int64, now time.Time, batch []types.Article) types.NewsSignal {
	sig := types.NewsSignal{
		CycleID:    cycleID,
		Timestamp:  now,
		CrisisType: types.CrisisNone,
		Sentiment:  types.SentimentDist{Neutral: 1},
	}
	if len(batch) == 0 {
		return sig
	}
	sig.ArticleCount = len(batch)

	var score float64
	counts := map[string]int{}
	crisisText := ""
	for _, a := range batch {
		text := a.Title + " " + a.RawText
		sent := sentimentOf(text)
		counts[sent]++
		crisisText += " " + text

		weight := 1.0
		switch a.Urgency {
		case types.UrgencyBreaking:
			weight = 10
			sig.BreakingCount++
		case types.UrgencyHigh:
			weight = 5
		}
		ageHours := now.Sub(a.PublishedAt).Hours()
		recency := 1 - ageHours/24
		if recency < 0 {
			recency = 0
		}
		mult := 1.0
		if sent == "bearish" {
			mult = 1.2
		}
		score += a.Relevance * weight * recency * mult
	}
	// Typical contributions land in 0..50; scale so a handful of fresh
	// breaking bearish articles pins the score.
	score = score * 4
	if score > 100 {
		score = 100
	}
	sig.Score = score

	total := float64(len(batch))
	sig.Sentiment = types.SentimentDist{
		Bearish: float64(counts["bearish"]) / total,
		Bullish: float64(counts["bullish"]) / total,
		Neutral: float64(counts["neutral"]) / total,
	}
	sig.CrisisType = crisisTypeOf(crisisText)

	ranked := make([]types.Article, len(batch))
	copy(ranked, batch)
	sortByRelevance(ranked)
	for i, a := range ranked {
		if i == topArticleLimit {
			break
		}
		sig.TopArticles = append(sig.TopArticles, a.ID)
	}
	return sig
}
