package ranking

import (
	"math"
	"strings"

	"movieapp/searchservice/internal/domain"
)

// Weights holds the per-field contribution caps. Exact must stay the highest.
type Weights struct {
	Exact      float64
	Title      float64
	Partial    float64
	Director   float64
	Actor      float64
	Genre      float64
	Rating     float64
	Popularity float64
	Year       float64
}

func DefaultWeights() Weights {
	return Weights{
		Exact:      15,
		Title:      10,
		Partial:    4,
		Director:   5,
		Actor:      2,
		Genre:      3,
		Rating:     2,
		Popularity: 1,
		Year:       2,
	}
}

// query is the per-request view of the raw query text.
type query struct {
	raw        string
	normalized string
	terms      []string
	year       int
	hasYear    bool
}

func parseQuery(raw string) query {
	q := query{
		raw:        raw,
		normalized: Normalize(raw),
		terms:      Terms(raw),
	}
	q.year, q.hasYear = QueryYear(raw)
	return q
}

func (q query) empty() bool {
	return len(q.terms) == 0
}

type breakdown struct {
	keyword    float64
	boost      float64
	similarity float64
}

func (b breakdown) total() float64 {
	return b.keyword + b.boost
}

func (w Weights) score(item domain.CandidateItem, q query, mode domain.RankingMode) breakdown {
	var out breakdown
	title := Normalize(item.Title)
	out.similarity = similarityNormalized(q.normalized, title)

	if !q.empty() {
		out.keyword += w.titleScore(title, q, out.similarity, mode)
		out.keyword += tiered(Normalize(item.Plot), q.terms, w.Partial*0.8, w.Partial*0.4)
		out.keyword += tiered(Normalize(item.Director), q.terms, w.Director, w.Director*0.6)
		out.keyword += tiered(Normalize(strings.Join(item.Actors, " ")), q.terms, w.Actor, w.Actor*0.6)
		out.keyword += tiered(Normalize(strings.Join(item.Genres, " ")), q.terms, w.Genre, w.Genre*0.6)
	}

	if item.ExternalRating != nil {
		switch r := *item.ExternalRating; {
		case r >= 8:
			out.boost += w.Rating
		case r >= 7:
			out.boost += w.Rating * 0.7
		case r >= 6:
			out.boost += w.Rating * 0.4
		}
	}
	if item.UserRating != nil {
		switch r := *item.UserRating; {
		case r >= 4:
			out.boost += w.Popularity * 1.5
		case r >= 3:
			out.boost += w.Popularity
		}
	}
	switch {
	case item.ViewCount > 1000:
		out.boost += w.Popularity
	case item.ViewCount > 500:
		out.boost += w.Popularity * 0.5
	}

	if q.hasYear && item.Year != nil {
		diff := *item.Year - q.year
		switch {
		case diff == 0:
			out.boost += w.Year * 2
		case diff >= -2 && diff <= 2:
			out.boost += w.Year
		}
	}
	return out
}

// titleScore applies the first matching title tier only.
func (w Weights) titleScore(title string, q query, similarity float64, mode domain.RankingMode) float64 {
	if title == "" {
		return 0
	}
	switch {
	case title == q.normalized:
		return w.Exact
	case q.normalized != "" && strings.Contains(title, q.normalized):
		return w.Title
	case containsAll(title, q.terms):
		return w.Partial
	case containsAny(title, q.terms):
		return w.Partial * 0.5
	case mode == domain.RankingModeFuzzy && similarity > 0.5:
		return similarity * w.Title * 0.7
	}
	return 0
}

func tiered(text string, terms []string, all, anyTerm float64) float64 {
	switch {
	case containsAll(text, terms):
		return all
	case containsAny(text, terms):
		return anyTerm
	}
	return 0
}

func validateCandidate(item domain.CandidateItem) bool {
	if item.ExternalRating != nil && !isFinite(*item.ExternalRating) {
		return false
	}
	if item.UserRating != nil && !isFinite(*item.UserRating) {
		return false
	}
	return item.ViewCount >= 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
