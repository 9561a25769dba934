package mentions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rewired-gh/proporacle/internal/models"
)

const maxContentLen = 300

func truncate(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxContentLen {
		return s
	}
	return string(r[:maxContentLen])
}

func getJSON(ctx context.Context, hc *http.Client, u, userAgent string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Reddit searches recent posts and keeps those from basketball subreddits.
type Reddit struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewReddit creates a Reddit provider. baseURL is normally https://www.reddit.com.
func NewReddit(baseURL, userAgent string) *Reddit {
	return &Reddit{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{},
	}
}

func (r *Reddit) Name() string { return "reddit" }

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title      string  `json:"title"`
				Selftext   string  `json:"selftext"`
				Subreddit  string  `json:"subreddit"`
				Permalink  string  `json:"permalink"`
				CreatedUTC float64 `json:"created_utc"`
				Score      float64 `json:"score"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (r *Reddit) FetchMentions(ctx context.Context, subjectName string) ([]models.Mention, error) {
	q := url.Values{}
	q.Set("q", subjectName+" NBA")
	q.Set("sort", "new")
	q.Set("limit", "25")
	q.Set("t", "week")

	var listing redditListing
	if err := getJSON(ctx, r.httpClient, r.baseURL+"/search.json?"+q.Encode(), r.userAgent, &listing); err != nil {
		return nil, fmt.Errorf("reddit search: %w", err)
	}

	var out []models.Mention
	for _, child := range listing.Data.Children {
		p := child.Data
		sub := strings.ToLower(p.Subreddit)
		if !strings.Contains(sub, "nba") && !strings.Contains(sub, "basketball") {
			continue
		}
		out = append(out, models.Mention{
			Content:    truncate(p.Title + " " + p.Selftext),
			Source:     r.Name(),
			URL:        "https://reddit.com" + p.Permalink,
			Timestamp:  time.Unix(int64(p.CreatedUTC), 0).UTC(),
			Engagement: p.Score,
		})
	}
	return out, nil
}

// ESPN reads the league news feed and keeps articles naming the player.
type ESPN struct {
	newsURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewESPN creates an ESPN provider. newsURL is the full news endpoint.
func NewESPN(newsURL string) *ESPN {
	return &ESPN{newsURL: newsURL, httpClient: &http.Client{}, now: time.Now}
}

func (e *ESPN) Name() string { return "espn" }

type espnNews struct {
	Articles []struct {
		Headline    string `json:"headline"`
		Description string `json:"description"`
		Published   string `json:"published"`
		Links       struct {
			Web struct {
				Href string `json:"href"`
			} `json:"web"`
		} `json:"links"`
	} `json:"articles"`
}

func (e *ESPN) FetchMentions(ctx context.Context, subjectName string) ([]models.Mention, error) {
	var news espnNews
	if err := getJSON(ctx, e.httpClient, e.newsURL+"?limit=20", "", &news); err != nil {
		return nil, fmt.Errorf("espn news: %w", err)
	}

	parts := strings.Fields(strings.ToLower(subjectName))
	var out []models.Mention
	for _, a := range news.Articles {
		text := strings.ToLower(a.Headline + " " + a.Description)
		matched := len(parts) > 0
		for _, p := range parts {
			if !strings.Contains(text, p) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		ts, err := time.Parse(time.RFC3339, a.Published)
		if err != nil {
			ts = e.now()
		}
		out = append(out, models.Mention{
			Content:   truncate(a.Headline + ": " + a.Description),
			Source:    e.Name(),
			URL:       a.Links.Web.Href,
			Timestamp: ts,
		})
	}
	return out, nil
}
