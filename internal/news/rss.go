package news

import (
	"context"
	"encoding/xml"
	"net/http"
	"time"

	"hightrade/internal/config"
	"hightrade/internal/logger"
	"hightrade/internal/types"
)

// RSSSource fetches a set of RSS/Atom feeds. Feeds are courtesy-limited, not
// token-limited, so the source carries no limiter key.
type RSSSource struct {
	cfg        config.RSSSource
	client     *http.Client
	classifier *classifier
	nowFn      func() time.Time
}

func NewRSSSource(cfg config.RSSSource, cls *classifier) *RSSSource {
	return &RSSSource{cfg: cfg, client: newHTTPClient(), classifier: cls, nowFn: time.Now}
}

func (s *RSSSource) Name() string       { return "rss_feeds" }
func (s *RSSSource) LimiterKey() string { return "" }

type rssDocument struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	// Atom feeds put entries at the top level.
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

type atomEntry struct {
	Title string `xml:"title"`
	Link  struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
	Summary string `xml:"summary"`
	Updated string `xml:"updated"`
}

// Fetch walks every configured feed; a broken feed is logged and skipped so
// sibling feeds still deliver.
func (s *RSSSource) Fetch(ctx context.Context) ([]types.Article, error) {
	var out []types.Article
	for _, feedURL := range s.cfg.Feeds {
		articles, err := s.fetchFeed(ctx, feedURL)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			logger.Warnf("failed to fetch rss feed %s: %v", feedURL, err)
			continue
		}
		out = append(out, articles...)
	}
	return out, nil
}

func (s *RSSSource) fetchFeed(ctx context.Context, feedURL string) ([]types.Article, error) {
	body, err := fetchBody(ctx, s.client, feedURL, "HighTrade/1.0")
	if err != nil {
		return nil, err
	}
	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	now := s.nowFn()
	sourceName := "RSS-" + doc.Channel.Title
	if doc.Channel.Title == "" {
		sourceName = "RSS"
	}
	var out []types.Article
	for _, item := range doc.Channel.Items {
		if item.Link == "" || item.Title == "" {
			continue
		}
		out = append(out, s.toArticle(sourceName, item.Title, item.Link, item.Description, item.PubDate, now))
	}
	for _, entry := range doc.Entries {
		if entry.Link.Href == "" || entry.Title == "" {
			continue
		}
		out = append(out, s.toArticle(sourceName, entry.Title, entry.Link.Href, entry.Summary, entry.Updated, now))
	}
	logger.Infof("fetched %d articles from %s", len(out), feedURL)
	return out, nil
}

func (s *RSSSource) toArticle(source, title, link, body, published string, now time.Time) types.Article {
	pub := parseFeedTime(published, now)
	text := title + " " + body
	return types.Article{
		ID:          types.ArticleID(link),
		Source:      source,
		Title:       title,
		URL:         link,
		PublishedAt: pub,
		FetchedAt:   now,
		RawText:     body,
		Relevance:   s.classifier.relevance(text),
		Urgency:     s.classifier.urgency(text),
	}
}

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

func parseFeedTime(s string, fallback time.Time) time.Time {
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
