// Package linkedin is the REST client for the LinkedIn Marketing API,
// covering the campaign fetch, reference lookups, credential probe, and
// OAuth token refresh used by the drift tracker.
package linkedin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/driftwatch/internal/apperr"
	"github.com/starford/driftwatch/internal/models"
)

const restliProtocolVersion = "2.0.0"

// Config holds client construction parameters.
type Config struct {
	// BaseURL of the versioned REST API, e.g. "https://api.linkedin.com/rest".
	BaseURL string
	// AuthURL of the OAuth endpoints, e.g. "https://www.linkedin.com/oauth/v2".
	AuthURL string
	// Version is the LinkedIn-Version header value, e.g. "202406".
	Version      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client issues authenticated requests against the ad platform.
type Client struct {
	http    *http.Client
	baseURL string
	authURL string
	version string

	clientID     string
	clientSecret string
}

// NewClient builds a client from cfg.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:         &http.Client{Timeout: timeout},
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		authURL:      strings.TrimSuffix(cfg.AuthURL, "/"),
		version:      cfg.Version,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}
}

// FetchCampaigns returns the raw campaign documents of one ad account.
func (c *Client) FetchCampaigns(ctx context.Context, accountID, token string) ([]map[string]any, error) {
	u := fmt.Sprintf("%s/adAccounts/%s/adCampaigns?q=search&sortOrder=DESCENDING", c.baseURL, url.PathEscape(accountID))
	var payload struct {
		Elements []map[string]any `json:"elements"`
	}
	if err := c.getJSON(ctx, u, token, &payload); err != nil {
		return nil, fmt.Errorf("fetch campaigns for account %s: %w", accountID, err)
	}
	return payload.Elements, nil
}

// analyticsFields is the metric set the dashboard charts per campaign.
const analyticsFields = "externalWebsiteConversions,dateRange,impressions,landingPageClicks,likes,shares,costInLocalCurrency,approximateUniqueImpressions,pivotValues"

// FetchAnalytics returns daily performance rows for one ad account, pivoted
// by campaign, optionally filtered to a campaign subset.
func (c *Client) FetchAnalytics(ctx context.Context, accountID, token string, q models.AnalyticsQuery) ([]map[string]any, error) {
	u := fmt.Sprintf("%s/adAnalytics?q=analytics&dateRange=%s&timeGranularity=DAILY&pivot=CAMPAIGN&accounts=List(%s)&fields=%s",
		c.baseURL,
		dateRangeParam(q.Start, q.End),
		url.QueryEscape("urn:li:sponsoredAccount:"+accountID),
		analyticsFields)
	if len(q.Campaigns) > 0 {
		urns := make([]string, len(q.Campaigns))
		for i, id := range q.Campaigns {
			urns[i] = url.QueryEscape("urn:li:sponsoredCampaign:" + id)
		}
		u += "&campaigns=List(" + strings.Join(urns, ",") + ")"
	}

	var payload struct {
		Elements []map[string]any `json:"elements"`
	}
	if err := c.getJSON(ctx, u, token, &payload); err != nil {
		return nil, fmt.Errorf("fetch analytics for account %s: %w", accountID, err)
	}
	return payload.Elements, nil
}

// dateRangeParam renders a date window in RestLi structured-query form.
func dateRangeParam(start, end time.Time) string {
	return fmt.Sprintf("(start:(year:%d,month:%d,day:%d),end:(year:%d,month:%d,day:%d))",
		start.Year(), int(start.Month()), start.Day(),
		end.Year(), int(end.Month()), end.Day())
}

// LookupReference resolves one typed reference to its display name.
func (c *Client) LookupReference(ctx context.Context, kind models.RefKind, id, token string) (string, error) {
	escaped := url.PathEscape(id)
	switch kind {
	case models.RefGeo:
		var payload struct {
			DefaultLocalizedName struct {
				Value string `json:"value"`
			} `json:"defaultLocalizedName"`
		}
		if err := c.getJSON(ctx, c.baseURL+"/geo/"+escaped, token, &payload); err != nil {
			return "", err
		}
		return payload.DefaultLocalizedName.Value, nil
	case models.RefSegment:
		var payload struct {
			Name string `json:"name"`
		}
		if err := c.getJSON(ctx, c.baseURL+"/adSegments/"+escaped, token, &payload); err != nil {
			return "", err
		}
		return payload.Name, nil
	case models.RefCampaignGroup:
		var payload struct {
			Name string `json:"name"`
		}
		if err := c.getJSON(ctx, c.baseURL+"/adCampaignGroups/"+escaped, token, &payload); err != nil {
			return "", err
		}
		return payload.Name, nil
	default:
		return "", fmt.Errorf("%w: no lookup endpoint for kind %q", apperr.ErrNotFound, kind)
	}
}

// Probe makes a cheap call to verify the credential is usable.
func (c *Client) Probe(ctx context.Context, token string) error {
	var payload map[string]any
	if err := c.getJSON(ctx, c.baseURL+"/me", token, &payload); err != nil {
		return fmt.Errorf("credential probe: %w", err)
	}
	return nil
}

// RefreshAccessToken exchanges a refresh token for a new access token.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/accessToken", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: refresh token: %v", apperr.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: refresh token: status %d", apperr.ErrTransient, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: refresh rejected: status %d: %s", apperr.ErrAuthExpired, resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: refresh response carried no token", apperr.ErrAuthExpired)
	}
	return payload.AccessToken, nil
}

// getJSON issues an authenticated GET and decodes the response body into out.
func (c *Client) getJSON(ctx context.Context, rawURL, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-RestLi-Protocol-Version", restliProtocolVersion)
	req.Header.Set("LinkedIn-Version", c.version)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", apperr.ErrAuthExpired, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, rawURL)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", apperr.ErrTransient, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
}
