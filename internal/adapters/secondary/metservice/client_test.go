package metservice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParsePolygon(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		wantLen int
	}{
		{
			name:    "valid triangle",
			raw:     "-45.0,168.0 -45.0,169.0 -46.0,168.5",
			wantLen: 3,
		},
		{
			name:    "too few vertices",
			raw:     "-45.0,168.0 -45.0,169.0",
			wantErr: true,
		},
		{
			name:    "missing longitude",
			raw:     "-45.0 -45.0,169.0 -46.0,168.5",
			wantErr: true,
		},
		{
			name:    "non-numeric vertex",
			raw:     "a,b -45.0,169.0 -46.0,168.5",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, err := ParsePolygon(tt.raw)

			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Len(t, points, tt.wantLen)
		})
	}
}

func TestPointInPolygon(t *testing.T) {
	// Square around Queenstown: lat -45.2..-44.8, lon 168.4..169.0
	square := []Point{
		{Lat: -45.2, Lon: 168.4},
		{Lat: -45.2, Lon: 169.0},
		{Lat: -44.8, Lon: 169.0},
		{Lat: -44.8, Lon: 168.4},
	}

	assert.True(t, PointInPolygon(-45.03, 168.66, square))
	assert.False(t, PointInPolygon(-44.5, 168.66, square))
	assert.False(t, PointInPolygon(-45.03, 170.0, square))
	assert.False(t, PointInPolygon(0, 0, square[:2]))
}

func TestAlerts_FiltersByPolygon(t *testing.T) {
	const capEntry = `<?xml version="1.0"?>
<alert xmlns="urn:oasis:names:tc:emergency:cap:1.2">
  <info>
    <event>Heavy Snow Warning</event>
    <severity>Severe</severity>
    <onset>2025-01-10T06:00:00+13:00</onset>
    <expires>2025-01-11T18:00:00+13:00</expires>
    <headline>Heavy snow about the southern lakes</headline>
    <description>Significant accumulations expected above 500 metres.</description>
    <area>
      <areaDesc>Southern Lakes</areaDesc>
      <polygon>-45.2,168.4 -45.2,169.0 -44.8,169.0 -44.8,168.4</polygon>
    </area>
  </info>
</alert>`

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)

	defer server.Close()

	mux.HandleFunc("/cap/rss", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<rss><channel>
  <item><title>Heavy Snow Warning</title><link>` + server.URL + `/cap/entry1</link></item>
</channel></rss>`))
	})
	mux.HandleFunc("/cap/entry1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(capEntry))
	})

	client := NewClient(server.URL+"/cap/rss", server.Client(), zap.NewNop())

	// Inside the warning polygon.
	alerts, err := client.Alerts(context.Background(), -45.03, 168.66)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Heavy snow about the southern lakes", alerts[0].Title)
	assert.Equal(t, "MetService", alerts[0].Source)
	assert.Equal(t, "Severe", alerts[0].Severity)

	// Outside the polygon: same feed, no match.
	alerts, err = client.Alerts(context.Background(), -41.29, 174.78)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}
