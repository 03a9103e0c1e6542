package linkedin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/driftwatch/internal/apperr"
	"github.com/starford/driftwatch/internal/models"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:      srv.URL,
		AuthURL:      srv.URL + "/oauth",
		Version:      "202406",
		ClientID:     "cid",
		ClientSecret: "secret",
	})
}

func TestFetchCampaigns(t *testing.T) {
	var gotAuth, gotVersion string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/adAccounts/512388408/adCampaigns" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("LinkedIn-Version")
		w.Write([]byte(`{"elements": [{"id": 314706446, "name": "Launch", "status": "ACTIVE"}]}`))
	}))

	docs, err := c.FetchCampaigns(context.Background(), "512388408", "tok")
	if err != nil {
		t.Fatalf("FetchCampaigns: %v", err)
	}
	if len(docs) != 1 || docs[0]["name"] != "Launch" {
		t.Errorf("docs = %+v", docs)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotVersion != "202406" {
		t.Errorf("version header = %q", gotVersion)
	}
}

func TestFetchAnalytics(t *testing.T) {
	var gotQuery string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/adAnalytics" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"elements": [{"impressions": 1200, "likes": 3}]}`))
	}))

	q := models.AnalyticsQuery{
		Start:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		Campaigns: []string{"314706446"},
	}
	rows, err := c.FetchAnalytics(context.Background(), "512388408", "tok", q)
	if err != nil {
		t.Fatalf("FetchAnalytics: %v", err)
	}
	if len(rows) != 1 || rows[0]["impressions"] != float64(1200) {
		t.Errorf("rows = %+v", rows)
	}

	for _, want := range []string{
		"q=analytics",
		"dateRange=(start:(year:2026,month:8,day:1),end:(year:2026,month:8,day:28))",
		"timeGranularity=DAILY",
		"pivot=CAMPAIGN",
		"accounts=List(urn%3Ali%3AsponsoredAccount%3A512388408)",
		"campaigns=List(urn%3Ali%3AsponsoredCampaign%3A314706446)",
	} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestFetchAnalyticsNoCampaignFilter(t *testing.T) {
	var gotQuery string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"elements": []}`))
	}))

	q := models.AnalyticsQuery{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
	}
	if _, err := c.FetchAnalytics(context.Background(), "512388408", "tok", q); err != nil {
		t.Fatalf("FetchAnalytics: %v", err)
	}
	if strings.Contains(gotQuery, "campaigns=") {
		t.Errorf("query %q should carry no campaign filter", gotQuery)
	}
}

func TestLookupReferenceEndpoints(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/geo/103644278":
			w.Write([]byte(`{"defaultLocalizedName": {"value": "United States"}}`))
		case "/adSegments/42":
			w.Write([]byte(`{"name": "Retargeting"}`))
		case "/adCampaignGroups/9":
			w.Write([]byte(`{"name": "Brand"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()

	cases := []struct {
		kind models.RefKind
		id   string
		want string
	}{
		{models.RefGeo, "103644278", "United States"},
		{models.RefSegment, "42", "Retargeting"},
		{models.RefCampaignGroup, "9", "Brand"},
	}
	for _, tc := range cases {
		got, err := c.LookupReference(ctx, tc.kind, tc.id, "tok")
		if err != nil {
			t.Errorf("%s/%s: %v", tc.kind, tc.id, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s/%s = %q, want %q", tc.kind, tc.id, got, tc.want)
		}
	}

	if _, err := c.LookupReference(ctx, "mystery", "1", "tok"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown kind err = %v", err)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, apperr.ErrAuthExpired},
		{http.StatusForbidden, apperr.ErrAuthExpired},
		{http.StatusNotFound, apperr.ErrNotFound},
		{http.StatusTooManyRequests, apperr.ErrTransient},
		{http.StatusInternalServerError, apperr.ErrTransient},
	}
	for _, tc := range cases {
		c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		err := c.Probe(context.Background(), "tok")
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestRefreshAccessToken(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/accessToken" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "ref" {
			t.Errorf("form = %v", r.PostForm)
		}
		w.Write([]byte(`{"access_token": "fresh"}`))
	}))

	tok, err := c.RefreshAccessToken(context.Background(), "ref")
	if err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}
	if tok != "fresh" {
		t.Errorf("token = %q", tok)
	}
}

func TestRefreshRejectedMapsToAuthExpired(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant"}`))
	}))

	_, err := c.RefreshAccessToken(context.Background(), "stale")
	if !errors.Is(err, apperr.ErrAuthExpired) {
		t.Errorf("err = %v, want ErrAuthExpired", err)
	}
}
