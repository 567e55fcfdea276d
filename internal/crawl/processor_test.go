package crawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamie-anson/placeflow-ingestor/internal/external"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

type stubGeo struct {
	country string
	calls   int
}

func (g *stubGeo) CountryForURL(rawURL string) (string, string, error) {
	g.calls++
	return g.country, "", nil
}

func newCrawlerServer(t *testing.T, crawled external.CrawledPlace) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		require.Equal(t, "/crawl", r.URL.Path)
		var req struct {
			SearchQuery string `json:"search_query"`
			PlaceName   string `json:"place_name"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.PlaceName)
		json.NewEncoder(w).Encode(crawled)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcessor_Process_RefreshesFieldsAndTagsOrigin(t *testing.T) {
	srv := newCrawlerServer(t, external.CrawledPlace{
		Name:      "Cafe Aurora",
		Category:  "cafe",
		Address:   "11 Main St",
		Latitude:  37.56,
		Longitude: 126.97,
		SourceURL: "https://catalog.example.co.kr/p/99",
	})

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	geo := &stubGeo{country: "KR"}
	p := NewProcessor(external.NewCrawlerClient(srv.URL), store.NewPlaceRepo(db), geo, 3)

	place := &models.Place{ID: 7, Name: "Cafe Aurora"}
	out, err := p.Process(context.Background(), place)
	require.NoError(t, err)

	got := out.(*models.Place)
	assert.Equal(t, "cafe", got.Category)
	assert.Equal(t, "11 Main St", got.Address)
	assert.InDelta(t, 37.56, got.Latitude, 0.001)
	assert.Equal(t, "KR", got.CountryCode)
	assert.Equal(t, 1, geo.calls)
}

func TestProcessor_Process_NilGeoSkipsTagging(t *testing.T) {
	srv := newCrawlerServer(t, external.CrawledPlace{
		Name:      "Cafe Aurora",
		Category:  "cafe",
		SourceURL: "https://catalog.example.co.kr/p/99",
	})

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	p := NewProcessor(external.NewCrawlerClient(srv.URL), store.NewPlaceRepo(db), nil, 3)

	out, err := p.Process(context.Background(), &models.Place{ID: 7, Name: "Cafe Aurora"})
	require.NoError(t, err)
	assert.Empty(t, out.(*models.Place).CountryCode)
}

func TestProcessor_Process_MarksFailedAfterExhaustedAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	// The final attempt flips crawl_status to FAILED.
	mock.ExpectExec(`UPDATE places SET crawl_status`).
		WithArgs(models.CrawlFailed, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := NewProcessor(external.NewCrawlerClient(srv.URL), store.NewPlaceRepo(db), nil, 2)
	place := &models.Place{ID: 7, Name: "Cafe Aurora"}

	_, err = p.Process(context.Background(), place)
	require.Error(t, err)
	_, err = p.Process(context.Background(), place)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFactory_Build_RejectsWrongJobName(t *testing.T) {
	f := NewFactory(nil, nil, external.NewCrawlerClient("http://127.0.0.1:1"), nil, 3, 10, 50, 3)
	_, _, err := f.Build(context.Background(), "region-sweep", 0)
	require.Error(t, err)
}

func TestFactory_Build_PreflightsCrawler(t *testing.T) {
	// Port 1 refuses connections; the preflight must turn that into an error
	// before any engine is constructed.
	f := NewFactory(nil, nil, external.NewCrawlerClient("http://127.0.0.1:1"), nil, 3, 10, 50, 3)
	_, _, err := f.Build(context.Background(), JobName, 0)
	require.Error(t, err)
}
