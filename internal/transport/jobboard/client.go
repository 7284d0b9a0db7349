// Package jobboard fetches job postings from a RapidAPI job-board endpoint.
package jobboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/retry"
)

const (
	searchPath   = "/api/v2/jobs/search"
	provider     = "jobboard"
	maxErrorBody = 4 << 10
)

// Config holds job-board connection settings.
type Config struct {
	BaseURL     string
	APIKey      string
	APIHost     string
	CountryCode string
	MaxPages    int
	Logger      *zap.Logger
}

// Client is a paginated job-board reader.
type Client struct {
	http   *resty.Client
	cfg    Config
	policy retry.Policy
	logger *zap.Logger
}

// New creates a job-board client. Each page request goes through policy.
func New(cfg Config, policy retry.Policy) *Client {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	lg := cfg.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("x-rapidapi-key", cfg.APIKey)
	if cfg.APIHost != "" {
		rc.SetHeader("x-rapidapi-host", cfg.APIHost)
	}
	return &Client{
		http:   rc,
		cfg:    cfg,
		policy: policy,
		logger: lg,
	}
}

// FetchJobs reads up to MaxPages pages and stops early on an empty page.
// Any page failure aborts the whole fetch.
func (c *Client) FetchJobs(ctx context.Context) ([]*entity.Job, error) {
	var jobs []*entity.Job
	for page := 1; page <= c.cfg.MaxPages; page++ {
		batch, err := retry.Value(ctx, c.policy, "jobboard.search", func(ctx context.Context) ([]posting, error) {
			return c.fetchPage(ctx, page)
		})
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			jobs = append(jobs, batch[i].toDomain())
		}
		c.logger.Debug("Fetched job page", zap.Int("page", page), zap.Int("count", len(batch)))
	}
	return jobs, nil
}

func (c *Client) fetchPage(ctx context.Context, page int) ([]posting, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format":      "json",
			"countryCode": c.cfg.CountryCode,
			"page":        strconv.Itoa(page),
		}).
		Get(searchPath)
	if err != nil {
		return nil, fmt.Errorf("job board request: %w: %w", domain.ErrJobBoard, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp)
	}

	var body searchResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode job board response: %w: %w", domain.ErrJobBoard, err)
	}
	return body.Result, nil
}

func statusError(resp *resty.Response) error {
	raw := resp.Body()
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	base := fmt.Errorf("job board status %d: %s", resp.StatusCode(), strings.TrimSpace(string(raw)))
	if resp.StatusCode() == http.StatusTooManyRequests {
		wait := time.Duration(0)
		if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		return fmt.Errorf("%w: %w", domain.NewRateLimitError(provider, wait, base), domain.ErrJobBoard)
	}
	return fmt.Errorf("%w: %w", base, domain.ErrJobBoard)
}

type searchResponse struct {
	Result []posting `json:"result"`
}

type posting struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	CountryCode  string   `json:"countryCode"`
	DateCreated  string   `json:"dateCreated"`
	Skills       []string `json:"skills"`
	Industry     string   `json:"industry"`
	WorkType     []string `json:"workType"`
	ContractType []string `json:"contractType"`
	JSONLD       struct {
		Description string `json:"description"`
		URL         string `json:"url"`
	} `json:"jsonLD"`
}

func (p *posting) toDomain() *entity.Job {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &entity.Job{
		JobID:        id,
		Title:        p.Title,
		Description:  p.JSONLD.Description,
		Company:      p.Company,
		City:         p.City,
		State:        p.State,
		CountryCode:  p.CountryCode,
		URL:          p.JSONLD.URL,
		Skills:       p.Skills,
		Industry:     p.Industry,
		WorkType:     first(p.WorkType),
		ContractType: first(p.ContractType),
		PostedAt:     parseDate(p.DateCreated),
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// parseDate accepts RFC 3339 timestamps and bare dates; anything else is zero.
func parseDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
