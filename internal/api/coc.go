package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"clan-tracker/internal/config"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned for HTTP 404: the clan, war or league group does
// not exist remotely.
var ErrNotFound = errors.New("not found")

type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("API error: %d (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("API error: %d", e.Code)
}

type Client struct {
	token       string
	baseURL     string
	client      *fasthttp.Client
	limiter     *rate.Limiter
	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Throttled int       `json:"throttled"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewClient(cfg *config.Config) *Client {
	limit := rate.Limit(cfg.CoCAPIRateLimit)
	if cfg.CoCAPIRateLimit <= 0 {
		limit = rate.Inf
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		token:   cfg.CoCAPIToken,
		baseURL: strings.TrimRight(cfg.CoCAPIBaseURL, "/"),
		client: &fasthttp.Client{
			MaxConnsPerHost:     64,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		limiter: rate.NewLimiter(limit, max(1, int(cfg.CoCAPIRateLimit))),
		rateLimit: RateLimitInfo{
			UpdatedAt: time.Now(),
		},
	}
}

func (c *Client) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *Client) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if limit := string(resp.Header.Peek("X-Ratelimit-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-Ratelimit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	if resp.StatusCode() == fasthttp.StatusTooManyRequests {
		c.rateLimit.Throttled++
	}
	c.rateLimit.UpdatedAt = time.Now()
}

func (c *Client) CurrentWar(ctx context.Context, clanTag string) (*War, error) {
	return doRequest[War](ctx, c, fmt.Sprintf("/clans/%s/currentwar", url.PathEscape(clanTag)))
}

func (c *Client) LeagueGroup(ctx context.Context, clanTag string) (*LeagueGroup, error) {
	return doRequest[LeagueGroup](ctx, c, fmt.Sprintf("/clans/%s/currentwar/leaguegroup", url.PathEscape(clanTag)))
}

func (c *Client) LeagueWar(ctx context.Context, warTag string) (*War, error) {
	return doRequest[War](ctx, c, fmt.Sprintf("/clanwarleagues/wars/%s", url.PathEscape(warTag)))
}

func (c *Client) Clan(ctx context.Context, clanTag string) (*Clan, error) {
	return doRequest[Clan](ctx, c, fmt.Sprintf("/clans/%s", url.PathEscape(clanTag)))
}

func (c *Client) CapitalRaidSeasons(ctx context.Context, clanTag string, limit int) (*CapitalRaidSeasons, error) {
	return doRequest[CapitalRaidSeasons](ctx, c, fmt.Sprintf("/clans/%s/capitalraidseasons?limit=%d", url.PathEscape(clanTag), limit))
}

func doRequest[T any](ctx context.Context, client *Client, path string) (*T, error) {
	if err := client.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(client.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+client.token)
	req.Header.Set("Accept", "application/json")

	deadline, ok := ctx.Deadline()
	if ok {
		if err := client.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}
	} else {
		if err := client.client.Do(req, resp); err != nil {
			return nil, err
		}
	}

	client.updateRateLimit(resp)

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	default:
		var body ClientError
		_ = json.Unmarshal(resp.Body(), &body)
		return nil, &StatusError{Code: resp.StatusCode(), Reason: body.Reason}
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &result, nil
}
