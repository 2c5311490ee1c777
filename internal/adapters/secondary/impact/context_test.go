package impact

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/ports"
)

func TestCleanBriefing(t *testing.T) {
	raw := "## Existing Vulnerabilities\n" +
		"- Aging stopbanks along the river ([source](https://example.com/report))\n" +
		"- Details at https://example.com/more\n" +
		"**Weather Impact Thresholds**\n" +
		"- Roads close above 25 cm of snow.\n" +
		"### Exposed Populations and Assets\n" +
		"- Ski-field workforce of about 900.\n" +
		"#### Upcoming Events:\n" +
		"- Winter festival this weekend.\n" +
		"Let me know if you want more detail on any of these.\n"

	cleaned := CleanBriefing(raw)

	assert.Contains(t, cleaned, "### Existing Vulnerabilities")
	assert.Contains(t, cleaned, "### Weather Impact Thresholds")
	assert.Contains(t, cleaned, "### Exposed Populations and Assets")
	assert.Contains(t, cleaned, "### Upcoming Events")
	assert.Contains(t, cleaned, "Aging stopbanks along the river (source)")
	assert.NotContains(t, cleaned, "https://")
	assert.NotContains(t, cleaned, "Let me know")
}

func TestMergeContinuation(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{name: "mid-word seam", a: "heavy snowf", b: "all expected.", want: "heavy snowfall expected."},
		{name: "sentence seam", a: "Snow expected.", b: "Roads may close.", want: "Snow expected. Roads may close."},
		{name: "heading seam", a: "Snow expected.", b: "### Upcoming Events", want: "Snow expected.\n\n### Upcoming Events"},
		{name: "empty accumulated", a: "", b: "text", want: "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeContinuation(tt.a, tt.b))
		})
	}
}

func TestNeedsContinuation(t *testing.T) {
	complete := "### Existing Vulnerabilities\nx.\n### Weather Impact Thresholds\nx.\n" +
		"### Exposed Populations and Assets\nx.\n### Upcoming Events\nNone scheduled."

	assert.False(t, needsContinuation(complete))
	assert.True(t, needsContinuation("### Existing Vulnerabilities\nonly one section."))
	assert.True(t, needsContinuation(complete+"\nAnd the festival will"))
}

func geminiTextResponse(text, finishReason string) map[string]any {
	return map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
			"finishReason": finishReason,
		}},
		"usageMetadata": map[string]any{"promptTokenCount": 200, "candidatesTokenCount": 150, "totalTokenCount": 350},
	}
}

func TestImpactContext_GeminiContinuesOnMissingHeading(t *testing.T) {
	firstHalf := "### Existing Vulnerabilities\n- Stopbanks.\n### Weather Impact Thresholds\n- 25 cm closes roads."
	secondHalf := "### Exposed Populations and Assets\n- 900 workers.\n### Upcoming Events\n- Festival Saturday."

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++

		var body map[string]any

		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "tools")

		w.Header().Set("Content-Type", "application/json")

		if calls == 1 {
			_ = json.NewEncoder(w).Encode(geminiTextResponse(firstHalf, "STOP"))

			return
		}

		// The continuation request carries the partial answer.
		contents := body["contents"].([]any)
		assert.Len(t, contents, 3)
		_ = json.NewEncoder(w).Encode(geminiTextResponse(secondHalf, "STOP"))
	}))

	defer server.Close()

	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC))
	provider := NewProvider(dir, "gemini-2.5-flash", "", "test-key", nil, clock, zap.NewNop(), Options{
		GeminiURL:  server.URL,
		HTTPClient: server.Client(),
	})

	out, err := provider.ImpactContext(context.Background(), ports.ContextRequest{
		EntityName:   "Queenstown",
		ContextType:  "location",
		ForecastDays: 3,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	for _, section := range RequiredSections {
		assert.Contains(t, out, "### "+section)
	}

	// Cached under the canonical name for the fake clock's date.
	_, err = os.Stat(filepath.Join(dir, "20250106_location_queenstown.json"))
	assert.NoError(t, err)
}

func TestImpactContext_ServesFreshCacheWithoutProviderCall(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC))

	payload, _ := json.Marshal(cachedBriefing{Content: "### Existing Vulnerabilities\ncached"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20250105_location_queenstown.json"), payload, 0o644))

	// Stale sibling from an earlier week gets purged on access.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20241220_location_queenstown.json"), payload, 0o644))

	provider := NewProvider(dir, "gemini-2.5-flash", "", "test-key", nil, clock, zap.NewNop(), Options{
		GeminiURL: "http://127.0.0.1:1", // any provider call would fail
	})

	out, err := provider.ImpactContext(context.Background(), ports.ContextRequest{
		EntityName:  "Queenstown",
		ContextType: "location",
	})

	require.NoError(t, err)
	assert.Contains(t, out, "cached")

	_, err = os.Stat(filepath.Join(dir, "20241220_location_queenstown.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestImpactContext_ProviderFailureDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))

	defer server.Close()

	provider := NewProvider(dir, "gemini-2.5-flash", "", "test-key", nil, clock, zap.NewNop(), Options{
		GeminiURL:  server.URL,
		HTTPClient: server.Client(),
	})

	out, err := provider.ImpactContext(context.Background(), ports.ContextRequest{
		EntityName:  "Queenstown",
		ContextType: "location",
	})

	require.NoError(t, err)
	assert.Empty(t, out)
}
