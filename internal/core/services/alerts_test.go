package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/ports"
)

type stubAlertSource struct {
	alerts []domain.AlertSummary
	calls  int
}

func (s *stubAlertSource) Alerts(_ context.Context, _, _ float64) ([]domain.AlertSummary, error) {
	s.calls++

	return s.alerts, nil
}

type stubCountryResolver struct {
	code  string
	err   error
	calls int
}

func (s *stubCountryResolver) CountryCode(_ context.Context, _, _ float64) (string, error) {
	s.calls++

	return s.code, s.err
}

func alertRouterFixture(t *testing.T, resolvers ...*stubCountryResolver) (*AlertService, *stubAlertSource, *stubAlertSource, *stubAlertSource) {
	t.Helper()

	us := &stubAlertSource{alerts: []domain.AlertSummary{{Title: "Tornado Warning"}}}
	nz := &stubAlertSource{alerts: []domain.AlertSummary{{Title: "Heavy Rain Warning"}}}
	fallback := &stubAlertSource{alerts: []domain.AlertSummary{{Title: "Generic Alert"}}}

	chain := make([]ports.CountryResolver, 0, len(resolvers))

	for _, r := range resolvers {
		chain = append(chain, r)
	}

	svc := NewAlertService(us, nz, fallback, chain, t.TempDir(), zap.NewNop())

	return svc, us, nz, fallback
}

func TestAlertService_RoutesByExplicitCountry(t *testing.T) {
	svc, us, nz, fallback := alertRouterFixture(t)

	alerts, err := svc.Alerts(context.Background(), 40, -100, "us")

	require.NoError(t, err)
	assert.Equal(t, "Tornado Warning", alerts[0].Title)
	assert.Equal(t, 1, us.calls)

	alerts, err = svc.Alerts(context.Background(), -45, 168, "NZ")

	require.NoError(t, err)
	assert.Equal(t, "Heavy Rain Warning", alerts[0].Title)
	assert.Equal(t, 1, nz.calls)

	alerts, err = svc.Alerts(context.Background(), 51, 0, "GB")

	require.NoError(t, err)
	assert.Equal(t, "Generic Alert", alerts[0].Title)
	assert.Equal(t, 1, fallback.calls)
}

func TestAlertService_CanadaUsesFallback(t *testing.T) {
	svc, us, nz, fallback := alertRouterFixture(t)

	_, err := svc.Alerts(context.Background(), 45, -75, "CA")

	require.NoError(t, err)
	assert.Equal(t, 1, fallback.calls)
	assert.Zero(t, us.calls)
	assert.Zero(t, nz.calls)
}

func TestAlertService_ResolvesAndCachesCountry(t *testing.T) {
	resolver := &stubCountryResolver{code: "nz"}
	svc, _, nz, _ := alertRouterFixture(t, resolver)

	_, err := svc.Alerts(context.Background(), -45.0312, 168.6626, "")

	require.NoError(t, err)
	assert.Equal(t, 1, nz.calls)
	assert.Equal(t, 1, resolver.calls)

	// Second lookup is memoized.
	_, err = svc.Alerts(context.Background(), -45.0312, 168.6626, "")

	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls)

	data, err := os.ReadFile(filepath.Join(svc.cacheDir, "country_cache.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"-45.0312,168.6626": "NZ"`)
}

func TestAlertService_ResolverChainSkipsFailures(t *testing.T) {
	broken := &stubCountryResolver{err: errors.New("quota")}
	working := &stubCountryResolver{code: "US"}
	svc, us, _, _ := alertRouterFixture(t, broken, working)

	_, err := svc.Alerts(context.Background(), 40, -100, "")

	require.NoError(t, err)
	assert.Equal(t, 1, us.calls)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, working.calls)
}

func TestAlertService_NoFallbackConfigured(t *testing.T) {
	svc := NewAlertService(&stubAlertSource{}, &stubAlertSource{}, nil, nil, t.TempDir(), zap.NewNop())

	alerts, err := svc.Alerts(context.Background(), 51, 0, "GB")

	assert.NoError(t, err)
	assert.Empty(t, alerts)
}
