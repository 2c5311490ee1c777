// Package metservice implements the MetService New Zealand CAP feed adapter.
// Alerts are published as an RSS index of CAP XML entries; each entry carries
// polygons that are tested against the forecast point.
package metservice

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

// DefaultFeedURL is the MetService CAP RSS index.
const DefaultFeedURL = "https://alerts.metservice.com/cap/rss"

const requestTimeout = 20 * time.Second

// Client fetches and filters MetService CAP alerts.
type Client struct {
	feedURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a MetService CAP client.
func NewClient(feedURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	return &Client{
		feedURL:    feedURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

type rssFeed struct {
	Channel struct {
		Items []struct {
			Title string `xml:"title"`
			Link  string `xml:"link"`
		} `xml:"item"`
	} `xml:"channel"`
}

type capAlert struct {
	Info []struct {
		Event       string `xml:"event"`
		Severity    string `xml:"severity"`
		Onset       string `xml:"onset"`
		Expires     string `xml:"expires"`
		Headline    string `xml:"headline"`
		Description string `xml:"description"`
		Area        []struct {
			Polygon []string `xml:"polygon"`
		} `xml:"area"`
	} `xml:"info"`
}

// Alerts fetches the CAP index, loads each entry, and returns the alerts
// whose polygons contain the point.
//
// Parameters:
//   - ctx: Context for cancellation
//   - lat, lon: Geographic coordinates to test
//
// Returns:
//   - []domain.AlertSummary: Matching alerts, possibly empty
//   - error: Feed-level transport or decode failure; per-entry failures are
//     logged and skipped
func (c *Client) Alerts(ctx context.Context, lat, lon float64) ([]domain.AlertSummary, error) {
	body, err := c.get(ctx, c.feedURL)

	if err != nil {
		return nil, fmt.Errorf("CAP feed fetch failed: %w", err)
	}

	var feed rssFeed

	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("malformed CAP feed: %w", err)
	}

	var alerts []domain.AlertSummary

	for _, item := range feed.Channel.Items {
		if item.Link == "" {
			continue
		}

		entry, err := c.get(ctx, item.Link)

		if err != nil {
			c.logger.Warn("CAP entry fetch failed",
				zap.String("link", item.Link),
				zap.Error(err))

			continue
		}

		var alert capAlert

		if err := xml.Unmarshal(entry, &alert); err != nil {
			c.logger.Warn("malformed CAP entry",
				zap.String("link", item.Link),
				zap.Error(err))

			continue
		}

		for _, info := range alert.Info {
			if !infoCoversPoint(info.Area, lat, lon) {
				continue
			}

			title := info.Headline

			if title == "" {
				title = info.Event
			}

			alerts = append(alerts, domain.AlertSummary{
				Title:       title,
				Description: info.Description,
				Severity:    info.Severity,
				Source:      "MetService",
				Onset:       info.Onset,
				Expiry:      info.Expires,
			})
		}
	}

	c.logger.Debug("MetService alerts matched",
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.Int("count", len(alerts)))

	return alerts, nil
}

func infoCoversPoint(areas []struct {
	Polygon []string `xml:"polygon"`
}, lat, lon float64) bool {
	for _, area := range areas {
		for _, polygon := range area.Polygon {
			points, err := ParsePolygon(polygon)

			if err != nil {
				continue
			}

			if PointInPolygon(lat, lon, points) {
				return true
			}
		}
	}

	return false
}

// Point is a lat/lon vertex of a CAP polygon.
type Point struct {
	Lat float64
	Lon float64
}

// ParsePolygon parses a CAP polygon string: whitespace-separated
// "lat,lon" pairs.
func ParsePolygon(raw string) ([]Point, error) {
	fields := strings.Fields(raw)

	if len(fields) < 3 {
		return nil, fmt.Errorf("polygon has %d vertices, need at least 3", len(fields))
	}

	points := make([]Point, 0, len(fields))

	for _, field := range fields {
		parts := strings.SplitN(field, ",", 2)

		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid polygon vertex %q", field)
		}

		lat, err := strconv.ParseFloat(parts[0], 64)

		if err != nil {
			return nil, fmt.Errorf("invalid polygon latitude %q", parts[0])
		}

		lon, err := strconv.ParseFloat(parts[1], 64)

		if err != nil {
			return nil, fmt.Errorf("invalid polygon longitude %q", parts[1])
		}

		points = append(points, Point{Lat: lat, Lon: lon})
	}

	return points, nil
}

// PointInPolygon tests containment with the even-odd ray casting rule.
func PointInPolygon(lat, lon float64, polygon []Point) bool {
	if len(polygon) < 3 {
		return false
	}

	inside := false
	j := len(polygon) - 1

	for i := 0; i < len(polygon); i++ {
		pi, pj := polygon[i], polygon[j]

		if (pi.Lat > lat) != (pj.Lat > lat) &&
			lon < (pj.Lon-pi.Lon)*(lat-pi.Lat)/(pj.Lat-pi.Lat)+pi.Lon {
			inside = !inside
		}

		j = i
	}

	return inside
}

func (c *Client) get(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)

	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", "impact-forecast/1.0")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)

		defer cancel()

		req = req.WithContext(ctx)
	}

	resp, err := c.httpClient.Do(req)

	if err != nil {
		return nil, err
	}

	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CAP endpoint returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
