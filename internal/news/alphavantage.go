package news

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"hightrade/internal/config"
	"hightrade/internal/logger"
	"hightrade/internal/types"
)

// avTimeLayout is Alpha Vantage's time_published format.
const avTimeLayout = "20060102T150405"

// AlphaVantageSource pulls the NEWS_SENTIMENT feed.
type AlphaVantageSource struct {
	cfg        config.AlphaVantageSource
	client     *http.Client
	classifier *classifier
	nowFn      func() time.Time
}

func NewAlphaVantageSource(cfg config.AlphaVantageSource, cls *classifier) *AlphaVantageSource {
	return &AlphaVantageSource{
		cfg:        cfg,
		client:     newHTTPClient(),
		classifier: cls,
		nowFn:      time.Now,
	}
}

func (s *AlphaVantageSource) Name() string       { return "alpha_vantage_news" }
func (s *AlphaVantageSource) LimiterKey() string { return s.cfg.RateLimiterKey }

func (s *AlphaVantageSource) Fetch(ctx context.Context) ([]types.Article, error) {
	params := url.Values{
		"function": {"NEWS_SENTIMENT"},
		"apikey":   {s.cfg.APIKey},
		"limit":    {fmt.Sprint(s.cfg.MaxArticles)},
	}
	if len(s.cfg.Topics) > 0 {
		params.Set("topics", strings.Join(s.cfg.Topics, ","))
	}
	body, err := fetchBody(ctx, s.client, s.cfg.Endpoint+"?"+params.Encode(), "")
	if err != nil {
		return nil, err
	}
	return s.parse(body)
}

// parse tolerates partial payloads: malformed feed items are skipped, and the
// free-tier throttle message ("Note"/"Information") maps to ErrRateLimited.
func (s *AlphaVantageSource) parse(body []byte) ([]types.Article, error) {
	doc := gjson.ParseBytes(body)
	if msg := doc.Get("Error Message"); msg.Exists() {
		return nil, fmt.Errorf("alpha vantage error: %s", msg.String())
	}
	if doc.Get("Note").Exists() || doc.Get("Information").Exists() {
		return nil, ErrRateLimited
	}
	now := s.nowFn()
	var out []types.Article
	doc.Get("feed").ForEach(func(_, item gjson.Result) bool {
		link := item.Get("url").String()
		title := item.Get("title").String()
		if link == "" || title == "" {
			logger.Debugf("skipping malformed alpha vantage article")
			return true
		}
		published, err := time.Parse(avTimeLayout, item.Get("time_published").String())
		if err != nil {
			published = now
		}
		text := title + " " + item.Get("summary").String()
		out = append(out, types.Article{
			ID:          types.ArticleID(link),
			Source:      "AlphaVantage",
			Title:       title,
			URL:         link,
			PublishedAt: published,
			FetchedAt:   now,
			RawText:     item.Get("summary").String(),
			Relevance:   s.classifier.relevance(text),
			Urgency:     s.classifier.urgency(text),
		})
		return true
	})
	logger.Infof("fetched %d articles from alpha vantage", len(out))
	return out, nil
}
