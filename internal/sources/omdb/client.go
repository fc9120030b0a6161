// Package omdb is the secondary source: the OMDb title search and detail API.
package omdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"movieapp/searchservice/internal/domain"
)

const (
	defaultBaseURL   = "https://www.omdbapi.com/"
	defaultRateLimit = 40
	notAvailable     = "N/A"
)

var runtimePattern = regexp.MustCompile(`(\d+)\s*min`)

type Config struct {
	APIKey string
	// BaseURL defaults to the public OMDb endpoint.
	BaseURL string
	// RequestsPerMinute caps outgoing calls; OMDb free keys allow very few.
	RequestsPerMinute int
	Client            *http.Client
}

type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

type searchItem struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	IMDbID string `json:"imdbID"`
	Type   string `json:"Type"`
	Poster string `json:"Poster"`
}

type searchResponse struct {
	Response     string       `json:"Response"`
	Search       []searchItem `json:"Search"`
	TotalResults string       `json:"totalResults"`
	Error        string       `json:"Error"`
}

type detailResponse struct {
	Response   string `json:"Response"`
	Error      string `json:"Error"`
	Title      string `json:"Title"`
	Year       string `json:"Year"`
	Runtime    string `json:"Runtime"`
	Genre      string `json:"Genre"`
	Director   string `json:"Director"`
	Writer     string `json:"Writer"`
	Actors     string `json:"Actors"`
	Plot       string `json:"Plot"`
	Poster     string `json:"Poster"`
	IMDbRating string `json:"imdbRating"`
	IMDbID     string `json:"imdbID"`
	Type       string `json:"Type"`
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = defaultRateLimit
	}
	return &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (c *Client) Name() string {
	return "omdb"
}

func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Search runs a title search. OMDb answers "Response":"False" both for no
// matches and for too-broad queries; both become an empty result.
func (c *Client) Search(ctx context.Context, query string, page int) ([]domain.CandidateItem, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("omdb: api key not configured")
	}
	if page < 1 {
		page = 1
	}
	params := url.Values{
		"s":    {strings.TrimSpace(query)},
		"page": {strconv.Itoa(page)},
	}
	var response searchResponse
	if err := c.get(ctx, params, &response); err != nil {
		return nil, err
	}
	if !strings.EqualFold(response.Response, "True") {
		return []domain.CandidateItem{}, nil
	}

	items := make([]domain.CandidateItem, 0, len(response.Search))
	for _, raw := range response.Search {
		item, ok := fromSearchItem(raw)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Client) Get(ctx context.Context, id string) (domain.CandidateItem, error) {
	if !c.Enabled() {
		return domain.CandidateItem{}, fmt.Errorf("omdb: api key not configured")
	}
	params := url.Values{
		"i":    {strings.TrimSpace(id)},
		"plot": {"full"},
	}
	var response detailResponse
	if err := c.get(ctx, params, &response); err != nil {
		return domain.CandidateItem{}, err
	}
	if !strings.EqualFold(response.Response, "True") {
		return domain.CandidateItem{}, domain.ErrNotFound
	}
	item, ok := fromDetail(response)
	if !ok {
		return domain.CandidateItem{}, domain.ErrNotFound
	}
	return item, nil
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	params.Set("apikey", c.apiKey)
	reqURL := c.baseURL
	if strings.Contains(reqURL, "?") {
		reqURL += "&" + params.Encode()
	} else {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("omdb HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func fromSearchItem(raw searchItem) (domain.CandidateItem, bool) {
	id := clean(raw.IMDbID)
	if id == "" {
		return domain.CandidateItem{}, false
	}
	return domain.CandidateItem{
		ID:           id,
		Title:        clean(raw.Title),
		Year:         parseYear(raw.Year),
		Kind:         parseKind(raw.Type),
		PosterURL:    clean(raw.Poster),
		Genres:       []string{},
		Actors:       []string{},
		SourceOrigin: domain.SourceOriginSecondary,
	}, true
}

func fromDetail(raw detailResponse) (domain.CandidateItem, bool) {
	id := clean(raw.IMDbID)
	if id == "" {
		return domain.CandidateItem{}, false
	}
	return domain.CandidateItem{
		ID:             id,
		Title:          clean(raw.Title),
		Year:           parseYear(raw.Year),
		Kind:           parseKind(raw.Type),
		PosterURL:      clean(raw.Poster),
		RuntimeMinutes: parseRuntime(raw.Runtime),
		Genres:         splitList(raw.Genre),
		Director:       clean(raw.Director),
		Writer:         clean(raw.Writer),
		Actors:         splitList(raw.Actors),
		Plot:           clean(raw.Plot),
		ExternalRating: parseRating(raw.IMDbRating),
		SourceOrigin:   domain.SourceOriginSecondary,
	}, true
}

func clean(raw string) string {
	value := strings.TrimSpace(raw)
	if value == notAvailable {
		return ""
	}
	return value
}

func splitList(raw string) []string {
	value := clean(raw)
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseYear reads the leading year of values like "2008" or "2008–2013".
func parseYear(raw string) *int {
	value := clean(raw)
	if len(value) < 4 {
		return nil
	}
	year, err := strconv.Atoi(value[:4])
	if err != nil || year <= 0 {
		return nil
	}
	return &year
}

func parseRuntime(raw string) *int {
	match := runtimePattern.FindStringSubmatch(clean(raw))
	if len(match) < 2 {
		return nil
	}
	minutes, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	return &minutes
}

func parseRating(raw string) *float64 {
	value := clean(raw)
	if value == "" {
		return nil
	}
	rating, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &rating
}

// parseKind leaves missing and unknown types (such as "game") empty.
func parseKind(raw string) domain.ItemKind {
	return domain.NormalizeKind(clean(raw))
}
