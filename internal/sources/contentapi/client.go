// Package contentapi is the primary source reached over the content service
// HTTP API.
package contentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"movieapp/searchservice/internal/domain"
)

// Default content service routes. The detail route resolves both imdbID and
// document ids.
const (
	DefaultSearchURL = "http://content-service:6003/api/contents/search"
	DefaultItemURL   = "http://content-service:6003/api/contents/movie"
	defaultPageSize  = 50
	defaultUserAgent = "movieapp-search/1.0"
)

var leadingNumber = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)`)

type Config struct {
	SearchURL string
	ItemURL   string
	PageSize  int
	UserAgent string
	Client    *http.Client
}

type Client struct {
	client    *http.Client
	searchURL string
	itemURL   string
	pageSize  int
	userAgent string
}

// Items are kept raw and decoded one by one, so a malformed item or field
// never takes the rest of the page down with it.
type searchResponse struct {
	Data []json.RawMessage `json:"data"`
}

type itemResponse struct {
	Data json.RawMessage `json:"data"`
}

// document is a content item as either route serializes it. The search route
// uses the model's field names; the detail route renames most of them and
// renders numbers as strings.
type document map[string]json.RawMessage

func NewClient(cfg Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	searchURL := strings.TrimSpace(cfg.SearchURL)
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	itemURL := strings.TrimSpace(cfg.ItemURL)
	if itemURL == "" {
		itemURL = DefaultItemURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		client:    client,
		searchURL: searchURL,
		itemURL:   strings.TrimRight(itemURL, "/"),
		pageSize:  pageSize,
		userAgent: userAgent,
	}
}

func (c *Client) Name() string {
	return "content-service"
}

func (c *Client) Search(ctx context.Context, query string, page int) ([]domain.CandidateItem, error) {
	uri, err := url.Parse(c.searchURL)
	if err != nil {
		return nil, fmt.Errorf("invalid search url: %w", err)
	}
	if page < 1 {
		page = 1
	}
	params := uri.Query()
	params.Set("q", strings.TrimSpace(query))
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(c.pageSize))
	uri.RawQuery = params.Encode()

	var response searchResponse
	if err := c.getJSON(ctx, uri.String(), &response); err != nil {
		return nil, err
	}
	items := make([]domain.CandidateItem, 0, len(response.Data))
	for _, raw := range response.Data {
		item, ok := decodeCandidate(raw)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Client) Get(ctx context.Context, id string) (domain.CandidateItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.CandidateItem{}, domain.ErrNotFound
	}
	var response itemResponse
	if err := c.getJSON(ctx, c.itemURL+"/"+url.PathEscape(id), &response); err != nil {
		return domain.CandidateItem{}, err
	}
	item, ok := decodeCandidate(response.Data)
	if !ok {
		return domain.CandidateItem{}, domain.ErrNotFound
	}
	return item, nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("content service HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("unexpected content service payload: %w", err)
	}
	return nil
}

func decodeCandidate(raw json.RawMessage) (domain.CandidateItem, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return domain.CandidateItem{}, false
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.CandidateItem{}, false
	}
	return toCandidate(doc)
}

// toCandidate keys items by IMDb id when present so they line up with
// secondary results, and falls back to the document id.
func toCandidate(doc document) (domain.CandidateItem, bool) {
	id := doc.text("imdbID")
	if id == "" {
		id = doc.text("_id", "id")
	}
	if id == "" {
		return domain.CandidateItem{}, false
	}
	return domain.CandidateItem{
		ID:             id,
		Title:          doc.text("title", "Title"),
		Year:           positive(doc.integer("year", "Year")),
		Kind:           domain.NormalizeKind(doc.text("type", "Type")),
		PosterURL:      doc.text("poster", "Poster"),
		RuntimeMinutes: positive(doc.integer("duration", "Runtime")),
		Genres:         doc.list("genres", "Genre"),
		Director:       doc.text("director", "Director"),
		Writer:         doc.text("writer", "Writer"),
		Actors:         doc.list("actors", "Actors"),
		Plot:           doc.text("description", "Plot"),
		ExternalRating: doc.number("imdbRating"),
		UserRating:     doc.number("averageUserRating"),
		ViewCount:      viewCount(doc.number("viewCount")),
		SourceOrigin:   domain.SourceOriginPrimary,
	}, true
}

// lookup returns the first of keys that is present and not null.
func (d document) lookup(keys ...string) (json.RawMessage, bool) {
	for _, key := range keys {
		raw, ok := d[key]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		return raw, true
	}
	return nil, false
}

// text accepts strings and numbers; anything else reads as empty.
func (d document) text(keys ...string) string {
	raw, ok := d.lookup(keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// number accepts a JSON number or a string starting with one, such as "8.7"
// or "136 min".
func (d document) number(keys ...string) *float64 {
	raw, ok := d.lookup(keys...)
	if !ok {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	match := leadingNumber.FindStringSubmatch(s)
	if len(match) < 2 {
		return nil
	}
	f, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	return &f
}

func (d document) integer(keys ...string) *int {
	f := d.number(keys...)
	if f == nil {
		return nil
	}
	v := int(*f)
	return &v
}

// list accepts a string array or a comma separated string.
func (d document) list(keys ...string) []string {
	raw, ok := d.lookup(keys...)
	if !ok {
		return []string{}
	}
	var values []any
	if err := json.Unmarshal(raw, &values); err == nil {
		out := make([]string, 0, len(values))
		for _, value := range values {
			if s, ok := value.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return []string{}
	}
	out := []string{}
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func positive(v *int) *int {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

func viewCount(v *float64) int64 {
	if v == nil || *v < 0 {
		return 0
	}
	return int64(*v)
}
