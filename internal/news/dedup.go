package news

import (
	"math"
	"sort"
	"strings"

	"hightrade/internal/logger"
	"hightrade/internal/types"
)

// bodyTokenLimit bounds how much article body feeds the similarity vector.
const bodyTokenLimit = 200

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(
		"the a an and or but in on at to for of with by from up about into through during " +
			"is are was were be been being have has had do does did will would should could may might " +
			"can this that these those i you he she it we they them their what which who when where " +
			"why how all each every both few more most some such no nor not only same so than too " +
			"very s t just don now") {
		stopwords[w] = struct{}{}
	}
}

// Deduplicator removes duplicate articles in two phases: exact hash matching
// on normalized URL/title, then batch-local TF-IDF cosine clustering.
type Deduplicator struct {
	threshold float64
}

func NewDeduplicator(threshold float64) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.6
	}
	return &Deduplicator{threshold: threshold}
}

// Deduplicate returns the retained subset of batch in input order, plus the
// number of articles removed. Degenerate input comes back unchanged.
func (d *Deduplicator) Deduplicate(batch []types.Article) ([]types.Article, int) {
	if len(batch) <= 1 {
		return batch, 0
	}
	hashUnique := d.hashPhase(batch)
	retained := d.similarityPhase(hashUnique)
	removed := len(batch) - len(retained)
	if removed > 0 {
		logger.Infof("deduplication: %d articles -> %d after hash -> %d after similarity",
			len(batch), len(hashUnique), len(retained))
	}
	return retained, removed
}

// hashPhase drops articles whose normalized URL or title exactly matches a
// previously retained article in the batch.
func (d *Deduplicator) hashPhase(batch []types.Article) []types.Article {
	seenURL := make(map[string]struct{}, len(batch))
	seenTitle := make(map[string]struct{}, len(batch))
	out := make([]types.Article, 0, len(batch))
	for _, a := range batch {
		url := normalizeText(a.URL)
		title := normalizeText(a.Title)
		if _, dup := seenURL[url]; dup && url != "" {
			continue
		}
		if _, dup := seenTitle[title]; dup && title != "" {
			continue
		}
		if url != "" {
			seenURL[url] = struct{}{}
		}
		if title != "" {
			seenTitle[title] = struct{}{}
		}
		out = append(out, a)
	}
	return out
}

// similarityPhase clusters articles whose pairwise cosine similarity meets the
// threshold and keeps one article per cluster: highest relevance, then earliest
// published, then lexicographic id.
func (d *Deduplicator) similarityPhase(batch []types.Article) []types.Article {
	if len(batch) <= 1 {
		return batch
	}
	vectors := buildTFIDF(batch)

	parent := make([]int, len(batch))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < len(batch); i++ {
		for j := i + 1; j < len(batch); j++ {
			if cosine(vectors[i], vectors[j]) >= d.threshold {
				union(i, j)
			}
		}
	}

	keeper := make(map[int]int) // cluster root -> index of article to keep
	for i := range batch {
		root := find(i)
		best, ok := keeper[root]
		if !ok || betterKeeper(batch[i], batch[best]) {
			keeper[root] = i
		}
	}
	keep := make(map[int]struct{}, len(keeper))
	for _, idx := range keeper {
		keep[idx] = struct{}{}
	}
	out := make([]types.Article, 0, len(keep))
	for i, a := range batch {
		if _, ok := keep[i]; ok {
			out = append(out, a)
		}
	}
	return out
}

// betterKeeper reports whether a should replace b as a cluster's keeper.
func betterKeeper(a, b types.Article) bool {
	if a.Relevance != b.Relevance {
		return a.Relevance > b.Relevance
	}
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.Before(b.PublishedAt)
	}
	return a.ID < b.ID
}

// buildTFIDF computes one sparse vector per article over title + leading body
// tokens. IDF is computed over the current batch only so thresholds stay
// stable across runs.
func buildTFIDF(batch []types.Article) []map[string]float64 {
	docs := make([][]string, len(batch))
	df := make(map[string]int)
	for i, a := range batch {
		tokens := tokenize(a.Title)
		body := tokenize(a.RawText)
		if len(body) > bodyTokenLimit {
			body = body[:bodyTokenLimit]
		}
		tokens = append(tokens, body...)
		docs[i] = tokens
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, dup := seen[tok]; !dup {
				seen[tok] = struct{}{}
				df[tok]++
			}
		}
	}
	n := float64(len(batch))
	vectors := make([]map[string]float64, len(batch))
	for i, tokens := range docs {
		vec := make(map[string]float64, len(tokens))
		if len(tokens) == 0 {
			vectors[i] = vec
			continue
		}
		counts := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			counts[tok]++
		}
		total := float64(len(tokens))
		for tok, c := range counts {
			tf := float64(c) / total
			idf := math.Log(n/float64(df[tok])) + 1
			vec[tok] = tf * idf
		}
		vectors[i] = vec
	}
	return vectors
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	// Few shared tokens means the pair cannot be a duplicate; skip the math.
	common := 0
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for tok := range small {
		if _, ok := large[tok]; ok {
			common++
		}
	}
	if common < 3 {
		return 0
	}
	var dot, magA, magB float64
	for tok, w := range a {
		if w2, ok := b[tok]; ok {
			dot += w * w2
		}
		magA += w * w
	}
	for _, w := range b {
		magB += w * w
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// normalizeText lowercases, strips punctuation, and collapses whitespace.
func normalizeText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				sb.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// tokenize splits normalized text into lowercase terms, dropping stopwords and
// very short tokens.
func tokenize(s string) []string {
	fields := strings.Fields(normalizeText(s))
	out := fields[:0]
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// sortByRelevance orders articles by descending relevance, stable on input order.
func sortByRelevance(articles []types.Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Relevance > articles[j].Relevance
	})
}
