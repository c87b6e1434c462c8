package news

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"hightrade/internal/config"
	"hightrade/internal/logger"
	"hightrade/internal/types"
)

// RedditSource samples hot posts from market subreddits as a sentiment feed.
type RedditSource struct {
	cfg        config.RedditSource
	client     *http.Client
	classifier *classifier
	nowFn      func() time.Time
}

func NewRedditSource(cfg config.RedditSource, cls *classifier) *RedditSource {
	return &RedditSource{cfg: cfg, client: newHTTPClient(), classifier: cls, nowFn: time.Now}
}

func (s *RedditSource) Name() string       { return "reddit" }
func (s *RedditSource) LimiterKey() string { return s.cfg.RateLimiterKey }

func (s *RedditSource) Fetch(ctx context.Context) ([]types.Article, error) {
	var out []types.Article
	for _, sub := range s.cfg.Subreddits {
		url := fmt.Sprintf("https://www.reddit.com/r/%s/hot.json?limit=%d", sub, s.cfg.PostLimit)
		body, err := fetchBody(ctx, s.client, url, "HighTrade/1.0")
		if err != nil {
			if err == ErrRateLimited || ctx.Err() != nil {
				return out, err
			}
			logger.Warnf("failed to fetch r/%s: %v", sub, err)
			continue
		}
		out = append(out, s.parse(sub, body)...)
	}
	return out, nil
}

func (s *RedditSource) parse(sub string, body []byte) []types.Article {
	now := s.nowFn()
	var out []types.Article
	gjson.GetBytes(body, "data.children").ForEach(func(_, post gjson.Result) bool {
		data := post.Get("data")
		title := data.Get("title").String()
		permalink := data.Get("permalink").String()
		if title == "" || permalink == "" {
			return true
		}
		link := "https://reddit.com" + permalink
		selftext := data.Get("selftext").String()
		if len(selftext) > 500 {
			selftext = selftext[:500]
		}
		pub := now
		if created := data.Get("created_utc").Float(); created > 0 {
			pub = time.Unix(int64(created), 0).UTC()
		}
		// Community attention substitutes for editorial relevance: upvote
		// ratio times score, squashed into [0,1].
		attention := data.Get("upvote_ratio").Float() * data.Get("score").Float() / 1000
		if attention > 1 {
			attention = 1
		}
		text := title + " " + selftext
		rel := s.classifier.relevance(text)
		if attention > rel {
			rel = attention
		}
		out = append(out, types.Article{
			ID:          types.ArticleID(link),
			Source:      "Reddit-r/" + sub,
			Title:       title,
			URL:         link,
			PublishedAt: pub,
			FetchedAt:   now,
			RawText:     selftext,
			Relevance:   rel,
			Urgency:     s.classifier.urgency(text),
		})
		return true
	})
	logger.Infof("fetched %d posts from r/%s", len(out), sub)
	return out
}
