package statsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/proporacle/internal/breaker"
	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Client provides access to the BallDontLie REST API.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	timeout        time.Duration
	logTimeout     time.Duration
	maxRetries     int
	retryDelayBase time.Duration
	limiter        *rate.Limiter
	breaker        *gobreaker.CircuitBreaker
}

// ClientConfig holds transport tuning for the stats client.
type ClientConfig struct {
	APIKey              string
	Timeout             time.Duration // search, roster, baseline
	LogTimeout          time.Duration // game log pages
	MaxRetries          int
	RetryDelayBase      time.Duration
	RateLimitRPS        float64
	RateLimitBurst      int
	BreakerFailures     uint32
	BreakerOpenTimeout  time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

var _ Source = (*Client)(nil)

// NewClient creates a new stats client.
func NewClient(baseURL string, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.LogTimeout <= 0 {
		cfg.LogTimeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 5
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		transport.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout > 0 {
		transport.IdleConnTimeout = cfg.IdleConnTimeout
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         cfg.APIKey,
		httpClient:     &http.Client{Transport: transport},
		timeout:        cfg.Timeout,
		logTimeout:     cfg.LogTimeout,
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		breaker: breaker.New("stats", breaker.Settings{
			ConsecutiveFailures: cfg.BreakerFailures,
			OpenTimeout:         cfg.BreakerOpenTimeout,
		}),
	}
}

// SearchSubjects searches by the first name token, as the provider only matches single words.
func (c *Client) SearchSubjects(ctx context.Context, name string) ([]models.Subject, error) {
	term := strings.TrimSpace(name)
	if first, _, ok := strings.Cut(term, " "); ok {
		term = first
	}
	q := url.Values{}
	q.Set("search", term)
	q.Set("per_page", "25")

	var resp playersResponse
	if err := c.get(ctx, c.timeout, "/players", q, &resp); err != nil {
		return nil, fmt.Errorf("failed to search players: %w", err)
	}
	return toSubjects(resp.Data), nil
}

// ListActiveRoster returns one page of currently active players.
func (c *Client) ListActiveRoster(ctx context.Context, pageSize int) ([]models.Subject, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(pageSize))

	var resp playersResponse
	if err := c.get(ctx, c.timeout, "/players/active", q, &resp); err != nil {
		return nil, fmt.Errorf("failed to list active players: %w", err)
	}
	return toSubjects(resp.Data), nil
}

// FetchGameLogs fetches one page of box scores, newest first.
func (c *Client) FetchGameLogs(ctx context.Context, lq LogQuery) ([]models.GameObservation, error) {
	q := url.Values{}
	for _, id := range lq.SubjectIDs {
		q.Add("player_ids[]", strconv.FormatInt(id, 10))
	}
	q.Add("seasons[]", strconv.Itoa(lq.Season))
	if lq.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(lq.PerPage))
	}
	if lq.Page > 0 {
		q.Set("page", strconv.Itoa(lq.Page))
	}
	q.Set("sort", "date")
	q.Set("direction", "desc")

	var resp statsResponse
	if err := c.get(ctx, c.logTimeout, "/stats", q, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch game logs page %d: %w", lq.Page, err)
	}

	obs := make([]models.GameObservation, 0, len(resp.Data))
	dropped := 0
	for _, row := range resp.Data {
		g, ok := row.toObservation()
		if !ok {
			dropped++
			continue
		}
		obs = append(obs, g)
	}
	if dropped > 0 {
		logger.Debug("Dropped %d unattributable stat rows on page %d", dropped, lq.Page)
	}
	return obs, nil
}

// FetchSeasonBaseline fetches the season-average row for one player.
func (c *Client) FetchSeasonBaseline(ctx context.Context, subjectID int64, season int) (*models.Baseline, error) {
	q := url.Values{}
	q.Set("player_id", strconv.FormatInt(subjectID, 10))
	q.Set("season", strconv.Itoa(season))

	var resp seasonAveragesResponse
	if err := c.get(ctx, c.timeout, "/season_averages", q, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch season averages: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	row := resp.Data[0]
	return &models.Baseline{
		SubjectID:   subjectID,
		Season:      season,
		GamesPlayed: int(row.GamesPlayed),
		Points:      float64(row.Pts),
		Rebounds:    float64(row.Reb),
		Assists:     float64(row.Ast),
	}, nil
}

func toSubjects(rows []playerPayload) []models.Subject {
	out := make([]models.Subject, 0, len(rows))
	for _, p := range rows {
		s := p.toSubject()
		if err := s.Validate(); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// get runs one bounded, rate-limited, breaker-guarded GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, timeout time.Duration, path string, q url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.doRequest(ctx, u)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			resp.Body.Close()
			return nil, fmt.Errorf("client error: %d", resp.StatusCode)
		default:
			return resp, nil
		}

		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
