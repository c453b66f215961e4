package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"page-mirror/internal/models"
	"page-mirror/internal/retry"
)

type EventTimeFilter string

const (
	FilterUpcoming EventTimeFilter = "upcoming"
	FilterPast     EventTimeFilter = "past"
)

const (
	pageLimit = 100
	// defensive cap on cursor-following so a broken paging envelope cannot
	// loop a sync run forever
	maxPageFollows = 50

	eventFields = "id,name,description,start_time,end_time,place,cover"
)

// Client talks to the upstream pages/events API. Every call is paced by an
// outbound limiter and wrapped in the shared retry policy; auth-invalid
// responses surface immediately without a retry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *slog.Logger
}

func NewClient(logger *slog.Logger, baseURL string) *Client {
	policy := retry.DefaultPolicy()
	policy.IsRetryable = IsTransient

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: NewHTTPClient(),
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		policy:     policy,
		logger:     logger,
	}
}

// WithRetryPolicy overrides the retry policy. The classifier is pinned to
// the transient check regardless of what the caller sets, so auth-invalid
// can never become retryable through configuration.
func (c *Client) WithRetryPolicy(p retry.Policy) *Client {
	p.IsRetryable = IsTransient
	c.policy = p
	return c
}

type listEnvelope[T any] struct {
	Data   []T            `json:"data"`
	Paging *models.Paging `json:"paging,omitempty"`
	Error  *errEnvelope   `json:"error,omitempty"`
}

type errEnvelope struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Subcode int    `json:"error_subcode"`
}

// GetPages lists every page the credential can manage, following the
// pagination cursor until exhausted.
func (c *Client) GetPages(ctx context.Context, credential string) ([]models.UpstreamPage, error) {
	params := url.Values{}
	params.Set("fields", "id,name,access_token")
	return fetchAll[models.UpstreamPage](ctx, c, "/me/accounts", credential, params)
}

// GetEvents lists a page's events in one upstream time window.
func (c *Client) GetEvents(ctx context.Context, pageID, credential string, filter EventTimeFilter) ([]models.UpstreamEvent, error) {
	params := url.Values{}
	params.Set("fields", eventFields)
	params.Set("time_filter", string(filter))
	return fetchAll[models.UpstreamEvent](ctx, c, "/"+pageID+"/events", credential, params)
}

// GetRelevantEvents fetches upcoming plus recent past events. The past
// window extends daysBack days, inclusive at the boundary. When the same id
// shows up in both windows the past-sourced copy wins: the merge retains
// the version encountered later in the upcoming-then-past concatenation.
// That ordering is load-bearing for callers; MergeRelevant keeps it
// explicit instead of incidental.
func (c *Client) GetRelevantEvents(ctx context.Context, pageID, credential string, daysBack int) ([]models.UpstreamEvent, error) {
	upcoming, err := c.GetEvents(ctx, pageID, credential, FilterUpcoming)
	if err != nil {
		return nil, err
	}

	past, err := c.GetEvents(ctx, pageID, credential, FilterPast)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().AddDate(0, 0, -daysBack)
	return MergeRelevant(upcoming, past, cutoff), nil
}

// MergeRelevant concatenates upcoming then the past events with start time
// at or after cutoff, deduplicating by id with last-write-wins. Order of
// first occurrence is preserved; a later duplicate replaces the retained
// version in place.
func MergeRelevant(upcoming, past []models.UpstreamEvent, cutoff time.Time) []models.UpstreamEvent {
	merged := make([]models.UpstreamEvent, 0, len(upcoming)+len(past))
	index := make(map[string]int, len(upcoming)+len(past))

	add := func(ev models.UpstreamEvent) {
		if i, ok := index[ev.ID]; ok {
			merged[i] = ev
			return
		}
		index[ev.ID] = len(merged)
		merged = append(merged, ev)
	}

	for _, ev := range upcoming {
		add(ev)
	}
	for _, ev := range past {
		if ev.StartTime.Before(cutoff) {
			continue
		}
		add(ev)
	}
	return merged
}

// fetchAll follows the pagination cursor, concatenating every page of data.
func fetchAll[T any](ctx context.Context, c *Client, path, credential string, params url.Values) ([]T, error) {
	var all []T
	after := ""

	for follow := 0; follow < maxPageFollows; follow++ {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("access_token", credential)
		q.Set("limit", strconv.Itoa(pageLimit))
		if after != "" {
			q.Set("after", after)
		}

		var env listEnvelope[T]
		err := c.policy.Do(ctx, func() error {
			return c.getJSON(ctx, path, q, &env)
		})
		if err != nil {
			return nil, err
		}

		all = append(all, env.Data...)

		if env.Paging == nil || env.Paging.Next == "" || env.Paging.Cursors.After == "" {
			break
		}
		after = env.Paging.Cursors.After
	}

	return all, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// network failures are retry-worthy; classify as a transient
		// server-side error
		return &APIError{HTTPStatus: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &APIError{HTTPStatus: http.StatusBadGateway, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return c.classify(resp, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode upstream response: %w", err)
	}
	return nil
}

func (c *Client) classify(resp *http.Response, body []byte) error {
	apiErr := &APIError{HTTPStatus: resp.StatusCode}

	var env struct {
		Error *errEnvelope `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Subcode = env.Error.Subcode
		apiErr.Type = env.Error.Type
		apiErr.Message = env.Error.Message
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs > 0 {
			apiErr.Hint = time.Duration(secs * float64(time.Second))
		}
	}

	c.logger.Debug("upstream_error",
		"status", apiErr.HTTPStatus,
		"code", apiErr.Code,
		"auth_invalid", apiErr.AuthInvalid(),
		"transient", apiErr.Transient(),
	)
	return apiErr
}
