package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/ports"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/fsio"
	"github.com/sean-rowe/impact-forecast/internal/render"
)

const (
	// terrainSearchRadiusKm bounds the highest-terrain scan used to cap
	// snow levels.
	terrainSearchRadiusKm = 50

	// promptSnapshotKeep and promptSnapshotMaxAge control the prompt
	// snapshot retention: the newest files always survive, older ones are
	// removed once stale.
	promptSnapshotKeep   = 10
	promptSnapshotMaxAge = 72 * time.Hour

	issueTimeLayout = "2006-01-02 15:04 MST"
)

// AlertFetcher resolves and fetches active alerts for a point. Implemented
// by AlertService; the executor never talks to alert feeds directly.
type AlertFetcher interface {
	Alerts(ctx context.Context, lat, lon float64, countryCode string) ([]domain.AlertSummary, error)
}

// ExecutorDeps carries the collaborators an Executor needs. Archive may be
// nil to disable run archiving; Contexts may be nil to disable impact
// briefings.
type ExecutorDeps struct {
	Geocoder  ports.Geocoder
	Alerts    AlertFetcher
	NWP       ports.NWPProvider
	Terrain   ports.TerrainSource
	Contexts  ports.ContextProvider
	Generator ports.TextGenerator
	Datasets  *DatasetService
	Costs     *CostTracker
	Archive   ports.ArchiveStore

	Clock  clockwork.Clock
	Logger *zap.Logger

	// CacheRoot holds the processed/ and prompts/ subdirectories.
	CacheRoot string

	// WebRoot is the static site output directory.
	WebRoot string
}

// Executor runs the full pipeline for every configured location and area:
// scaffold the site, collect and process data per entity, generate the
// narrative, translate when asked, and render pages.
//
// One entity's failure never aborts the run; the entity is skipped with a
// warning and the next one proceeds.
type Executor struct {
	cfg  *domain.ForecastConfig
	deps ExecutorDeps

	// profileUnsupported records models whose pressure-profile field set the
	// provider rejected or returned empty, so the second fetch is not retried
	// per entity. profileMu guards it.
	profileMu          sync.Mutex
	profileUnsupported map[string]bool

	// payloadMemo reuses collected payloads when a location appears both
	// standalone and as an area member within one run.
	payloadMemo map[string]*locationPayload
}

// NewExecutor creates a pipeline executor.
//
// Parameters:
//   - cfg: Validated forecast configuration
//   - deps: Collaborators; Archive and Contexts may be nil
//
// Returns:
//   - *Executor: Ready executor
func NewExecutor(cfg *domain.ForecastConfig, deps ExecutorDeps) *Executor {
	return &Executor{
		cfg:                cfg,
		deps:               deps,
		profileUnsupported: make(map[string]bool),
		payloadMemo:        make(map[string]*locationPayload),
	}
}

// resolvedEntity is one location or area with every inherited setting
// flattened to a concrete value.
type resolvedEntity struct {
	name    string
	display string
	slug    string

	spec  domain.ModelSpec
	units domain.Units

	// snow is the effective snow-level flag after the deterministic-kind
	// gate; snowOverride keeps the entity's raw preference for members that
	// inherit it.
	snow         bool
	snowOverride *bool

	days    int
	thin    int
	refresh time.Duration

	wordiness   domain.Wordiness
	reasoning   string
	impactBased bool
	translation string
	extra       string

	// mode is set for areas only.
	mode domain.AreaMode

	// members are the area member names, empty for locations.
	members []string
}

// locationPayload is the collected per-location state shared by location
// pages and area synthesis.
type locationPayload struct {
	Name     string
	Geo      *domain.GeocodeResult
	Timezone string
	Alerts   []domain.AlertSummary
	Dataset  *domain.ProcessedDataset
	Spec     domain.ModelSpec

	// ProcessedPath is where the dataset JSON was cached, named in the
	// fallback summary so operators can inspect the raw numbers.
	ProcessedPath string
}

// Run executes the pipeline for every configured entity.
//
// Returns:
//   - error: Site scaffolding failure; per-entity failures are logged and
//     skipped instead
func (e *Executor) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := e.deps.Logger.With(zap.String("run_id", runID))

	locations := e.resolveLocations()
	areas := e.resolveAreas()

	if err := e.scaffold(locations, areas); err != nil {
		return err
	}

	previous := render.LoadMapsState(e.deps.WebRoot)
	state := render.MapsState{
		ConfigHash: e.cfg.ConfigHash,
		Areas:      make(map[string]string),
	}

	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.processLocation(ctx, runID, loc, logger)
	}

	for _, area := range areas {
		if err := ctx.Err(); err != nil {
			return err
		}

		fingerprint := render.AreaFingerprint(area.name, area.members)
		state.Areas[area.slug] = fingerprint

		if previous.Areas[area.slug] != fingerprint {
			logger.Info("area membership changed since last run",
				zap.String("area", area.name))
		}

		e.processArea(ctx, runID, area, logger)
	}

	if err := render.SaveMapsState(e.deps.WebRoot, state); err != nil {
		logger.Warn("unable to save site state", zap.Error(err))
	}

	logger.Info("run complete", zap.String("cost_summary", "\n"+e.deps.Costs.Summary()))

	return nil
}

// scaffold writes the favicon, the menu, and a placeholder page for every
// entity that does not yet have one.
func (e *Executor) scaffold(locations, areas []resolvedEntity) error {
	if err := render.WriteFavicon(e.deps.WebRoot); err != nil {
		return err
	}

	menuLocations := make([]render.MenuEntry, 0, len(locations))
	menuAreas := make([]render.MenuEntry, 0, len(areas))

	for _, loc := range locations {
		menuLocations = append(menuLocations, render.MenuEntry{Slug: loc.slug, Label: loc.display})

		if err := render.WritePlaceholder(e.pagePath(loc.slug), loc.display); err != nil {
			return err
		}
	}

	for _, area := range areas {
		menuAreas = append(menuAreas, render.MenuEntry{Slug: area.slug, Label: area.display})

		if err := render.WritePlaceholder(e.pagePath(area.slug), area.display); err != nil {
			return err
		}
	}

	return render.WriteMenu(e.deps.WebRoot, menuLocations, menuAreas)
}

func (e *Executor) pagePath(slug string) string {
	return filepath.Join(e.deps.WebRoot, slug, "index.html")
}

// resolveLocations flattens configured locations and disambiguates display
// names. Two entries sharing a name with differing model kinds get kind
// suffixes; any other collision gets an occurrence index.
func (e *Executor) resolveLocations() []resolvedEntity {
	specs := make([]domain.ModelSpec, len(e.cfg.Locations))
	nameCount := make(map[string]int)

	for i, entry := range e.cfg.Locations {
		spec, _ := domain.ParseModelSpec(firstNonEmptyString(entry.Model, e.cfg.Model))
		specs[i] = spec
		nameCount[entry.Name]++
	}

	kindPairs := make(map[string]bool)

	for name, count := range nameCount {
		if count != 2 {
			continue
		}

		kinds := make(map[domain.ModelKind]bool)

		for i, entry := range e.cfg.Locations {
			if entry.Name == name {
				kinds[specs[i].Kind] = true
			}
		}

		kindPairs[name] = len(kinds) == 2
	}

	occurrence := make(map[string]int)
	resolved := make([]resolvedEntity, 0, len(e.cfg.Locations))

	for i, entry := range e.cfg.Locations {
		display := entry.Name

		if nameCount[entry.Name] > 1 {
			if kindPairs[entry.Name] {
				if specs[i].Kind == domain.KindDeterministic {
					display += " (Deterministic)"
				} else {
					display += " (Ensemble)"
				}
			} else {
				occurrence[entry.Name]++
				display = fmt.Sprintf("%s %d", entry.Name, occurrence[entry.Name])
			}
		}

		resolved = append(resolved, resolvedEntity{
			name:         entry.Name,
			display:      display,
			slug:         domain.Slugify(display),
			spec:         specs[i],
			units:        domain.DefaultUnits().Merge(e.cfg.Units).Merge(entry.Units),
			snow:         e.snowEnabled(entry.SnowLevels, specs[i]),
			snowOverride: entry.SnowLevels,
			days:         e.cfg.LocationForecastDays,
			thin:         e.cfg.LocationThinSelect,
			refresh:      e.refreshInterval(entry.RefreshMinutes),
			wordiness:    e.cfg.LocationWordiness,
			reasoning:    e.reasoningLevel(e.cfg.LocationReasoning),
			impactBased:  e.cfg.LocationImpactBased,
			translation:  firstNonEmptyString(entry.TranslationLanguage, e.cfg.TranslationLanguage),
			extra:        entry.ExtraContext,
		})
	}

	return resolved
}

func (e *Executor) resolveAreas() []resolvedEntity {
	resolved := make([]resolvedEntity, 0, len(e.cfg.Areas))

	for _, entry := range e.cfg.Areas {
		spec, _ := domain.ParseModelSpec(firstNonEmptyString(entry.Model, e.cfg.Model))

		resolved = append(resolved, resolvedEntity{
			name:         entry.Name,
			display:      entry.Name,
			slug:         domain.Slugify(entry.Name),
			spec:         spec,
			units:        domain.DefaultUnits().Merge(e.cfg.Units).Merge(entry.Units),
			snow:         e.snowEnabled(entry.SnowLevels, spec),
			snowOverride: entry.SnowLevels,
			days:         e.cfg.AreaForecastDays,
			thin:         e.cfg.AreaThinSelect,
			refresh:      e.refreshInterval(entry.RefreshMinutes),
			wordiness:    e.cfg.AreaWordiness,
			reasoning:    e.reasoningLevel(e.cfg.AreaReasoning),
			impactBased:  e.cfg.AreaImpactBased,
			translation:  firstNonEmptyString(entry.TranslationLanguage, e.cfg.TranslationLanguage),
			extra:        entry.ExtraContext,
			mode:         entry.Mode,
			members:      entry.Locations,
		})
	}

	return resolved
}

// snowEnabled applies the inheritance and the model-kind gate: snow levels
// are only derived for deterministic output.
func (e *Executor) snowEnabled(override *bool, spec domain.ModelSpec) bool {
	enabled := e.cfg.SnowLevels

	if override != nil {
		enabled = *override
	}

	return enabled && spec.Kind == domain.KindDeterministic
}

func (e *Executor) refreshInterval(override *int) time.Duration {
	minutes := e.cfg.RefreshMinutes

	if override != nil {
		minutes = *override
	}

	return time.Duration(minutes) * time.Minute
}

func (e *Executor) reasoningLevel(level string) string {
	if !e.cfg.EnableReasoning {
		return "off"
	}

	return level
}

// processLocation runs the pipeline for one location and renders its page.
func (e *Executor) processLocation(ctx context.Context, runID string, loc resolvedEntity, logger *zap.Logger) {
	log := logger.With(zap.String("location", loc.display))
	started := e.deps.Clock.Now()

	if e.shouldSkipRefresh(loc) {
		log.Info("page is fresh, skipping")

		return
	}

	payload, err := e.collectPayload(ctx, loc.name, loc.spec, loc.days, loc.thin, loc.snow, loc.units.AltitudeM)

	if err != nil {
		log.Warn("skipping location", zap.Error(err))

		return
	}

	if payload == nil {
		log.Warn("location could not be geocoded, skipping")

		return
	}

	formatted := FormatDataset(payload.Dataset, payload.Alerts, FormatOptions{
		Units:    loc.units,
		Timezone: payload.Timezone,
	})

	impactContext := e.impactContext(ctx, loc, "location", payload.Timezone, log)

	userPrompt := SpotUserPrompt(SpotPromptInputs{
		Dataset:                formatted,
		LocationName:           loc.display,
		Latitude:               payload.Geo.Latitude,
		Longitude:              payload.Geo.Longitude,
		Season:                 CurrentSeason(payload.Geo.Latitude, e.deps.Clock),
		Wordiness:              loc.wordiness,
		ShortPeriodInstruction: ShortPeriodInstruction(payload.Dataset, payload.Timezone, e.deps.Clock),
		ImpactInstruction:      ImpactInstruction(impactContext != ""),
		ImpactContext:          impactContext,
	})
	systemPrompt := SpotSystemPrompt(loc.units)

	e.snapshotPrompt("location", loc.slug, systemPrompt, userPrompt, log)

	text := e.generate(ctx, ports.GenerateRequest{
		Prompt:         userPrompt,
		SystemPrompt:   systemPrompt,
		Model:          e.cfg.LLM,
		ReasoningLevel: loc.reasoning,
		CostLabel:      loc.display,
		CostKind:       CostKindForecast,
	}, func() string {
		return datasetSummary(payload)
	}, log)

	translated := e.translate(ctx, text, loc.translation, loc.display, log)

	e.renderPage(loc, payload.Timezone, text, translated, impactContext, payload.Spec, log)
	e.recordRun(ctx, runID, loc, "location", started, len(text), log)
}

// processArea collects every member's payload, combines them, and renders
// either a blended summary or a regional breakdown.
func (e *Executor) processArea(ctx context.Context, runID string, area resolvedEntity, logger *zap.Logger) {
	log := logger.With(zap.String("area", area.display))
	started := e.deps.Clock.Now()

	if e.shouldSkipRefresh(area) {
		log.Info("page is fresh, skipping")

		return
	}

	var blocks []AreaLocationBlock
	var payloads []*locationPayload

	for _, member := range area.members {
		spec, units, snow := e.memberSettings(member, area)

		payload, err := e.collectPayload(ctx, member, spec, area.days, area.thin, snow, units.AltitudeM)

		if err != nil {
			log.Warn("skipping area member", zap.String("member", member), zap.Error(err))

			continue
		}

		if payload == nil {
			log.Warn("area member could not be geocoded, skipping", zap.String("member", member))

			continue
		}

		payloads = append(payloads, payload)
		blocks = append(blocks, AreaLocationBlock{
			Name:      member,
			Latitude:  payload.Geo.Latitude,
			Longitude: payload.Geo.Longitude,
			Timezone:  payload.Timezone,
			Text: FormatDataset(payload.Dataset, payload.Alerts, FormatOptions{
				Units:    units,
				Timezone: payload.Timezone,
			}),
		})
	}

	if len(payloads) == 0 {
		log.Warn("no area members produced data, skipping")

		return
	}

	timezone := payloads[0].Timezone
	contextType := "area"

	if area.mode == domain.AreaModeRegional {
		contextType = "regional"
	}

	impactContext := e.impactContext(ctx, area, contextType, timezone, log)

	inputs := AreaPromptInputs{
		Dataset:                FormatAreaDataset(area.display, blocks),
		AreaName:               area.display,
		LocationNames:          area.members,
		Wordiness:              area.wordiness,
		ShortPeriodInstruction: ShortPeriodInstruction(payloads[0].Dataset, timezone, e.deps.Clock),
		ImpactInstruction:      ImpactInstruction(impactContext != ""),
		ImpactContext:          impactContext,
	}

	var userPrompt, systemPrompt string

	if area.mode == domain.AreaModeRegional {
		userPrompt = RegionalUserPrompt(inputs)
		systemPrompt = RegionalSystemPrompt(area.units)
	} else {
		userPrompt = AreaUserPrompt(inputs)
		systemPrompt = AreaSystemPrompt(area.units)
	}

	e.snapshotPrompt(contextType, area.slug, systemPrompt, userPrompt, log)

	text := e.generate(ctx, ports.GenerateRequest{
		Prompt:         userPrompt,
		SystemPrompt:   systemPrompt,
		Model:          e.cfg.LLM,
		ReasoningLevel: area.reasoning,
		CostLabel:      area.display,
		CostKind:       CostKindForecast,
	}, func() string {
		return areaDatasetSummary(area.display, payloads)
	}, log)

	translated := e.translate(ctx, text, area.translation, area.display, log)

	e.renderPage(area, timezone, text, translated, impactContext, area.spec, log)
	e.recordRun(ctx, runID, area, contextType, started, len(text), log)
}

// memberSettings resolves an area member's model, units, and snow flag.
// A member matching a configured location inherits that location's model
// override, units, and station altitude; its snow preference falls back
// location, then area, then global. Unmatched members use the area's
// settings.
func (e *Executor) memberSettings(member string, area resolvedEntity) (domain.ModelSpec, domain.Units, bool) {
	for _, entry := range e.cfg.Locations {
		if entry.Name != member {
			continue
		}

		spec := area.spec

		if entry.Model != "" {
			spec, _ = domain.ParseModelSpec(entry.Model)
		}

		override := entry.SnowLevels

		if override == nil {
			override = area.snowOverride
		}

		units := domain.DefaultUnits().Merge(e.cfg.Units).Merge(entry.Units)

		return spec, units, e.snowEnabled(override, spec)
	}

	return area.spec, area.units, e.snowEnabled(area.snowOverride, area.spec)
}

// collectPayload geocodes, fetches alerts and the raw forecast, derives
// snow levels, and pivots the dataset for one location. A nil payload with
// nil error means the name could not be geocoded. altitudeM above zero is
// the configured station altitude, preferred over geocoding and the model's
// elevation field.
func (e *Executor) collectPayload(ctx context.Context, name string, spec domain.ModelSpec, days, thin int, snow bool, altitudeM float64) (*locationPayload, error) {
	memoKey := fmt.Sprintf("%s|%s|%d|%d|%t|%.0f", strings.ToLower(name), spec.String(), days, thin, snow, altitudeM)

	if payload, ok := e.payloadMemo[memoKey]; ok {
		return payload, nil
	}

	geo, err := e.deps.Geocoder.Geocode(ctx, name)

	if err != nil {
		return nil, err
	}

	if geo == nil {
		return nil, nil
	}

	alerts, err := e.deps.Alerts.Alerts(ctx, geo.Latitude, geo.Longitude, geo.CountryCode)

	if err != nil {
		e.deps.Logger.Warn("alert fetch failed, continuing without alerts",
			zap.String("location", name), zap.Error(err))
		alerts = nil
	}

	// One day beyond the display horizon keeps the last local day complete
	// across the UTC boundary.
	raw, err := e.deps.NWP.Fetch(ctx, ports.NWPRequest{
		Latitude:     geo.Latitude,
		Longitude:    geo.Longitude,
		Timezone:     geo.Timezone,
		ForecastDays: days + 1,
		Model:        spec,
	})

	if err != nil {
		return nil, err
	}

	altitude := stationAltitude(raw, geo, altitudeM)

	var snowFn SnowLevelFunc

	if snow {
		maxTerrain := math.Inf(1)

		if peak, err := e.deps.Terrain.HighestPoint(ctx, geo.Latitude, geo.Longitude, terrainSearchRadiusKm); err == nil {
			maxTerrain = peak
		} else {
			e.deps.Logger.Warn("terrain lookup failed, snow-level terrain cap disabled",
				zap.String("location", name), zap.Error(err))
		}

		e.fetchSnowProfile(ctx, geo, spec, days, raw)

		estimator := NewSnowLevelEstimator(altitude, maxTerrain)
		snowFn = estimator.Estimate
	}

	dataset := e.deps.Datasets.Transform(raw, geo.Timezone, snowFn)

	if thin > 0 && spec.Kind == domain.KindEnsemble {
		dataset = ThinMembers(dataset, thin)
	}

	limitDays(dataset, days)

	payload := &locationPayload{
		Name:          name,
		Geo:           geo,
		Timezone:      geo.Timezone,
		Alerts:        alerts,
		Dataset:       dataset,
		Spec:          spec,
		ProcessedPath: e.writeProcessed(name, spec, dataset),
	}

	e.payloadMemo[memoKey] = payload

	return payload, nil
}

// fetchSnowProfile requests pressure-level variables when the first fetch
// carried no freezing level and at least one hour can pass the snow gates.
// Models that reject the profile field set, or answer it with only nulls,
// are remembered and never asked again this run.
func (e *Executor) fetchSnowProfile(ctx context.Context, geo *domain.GeocodeResult, spec domain.ModelSpec, days int, raw *domain.RawForecast) {
	if _, ok := raw.Hourly["freezing_level_height"]; ok {
		return
	}

	if e.isProfileUnsupported(spec.ID) || !needsSnowProfile(raw) {
		return
	}

	profile, err := e.deps.NWP.Fetch(ctx, ports.NWPRequest{
		Latitude:     geo.Latitude,
		Longitude:    geo.Longitude,
		Timezone:     geo.Timezone,
		ForecastDays: days + 1,
		Model:        spec,
		HourlyFields: snowProfileFields,
	})

	if err != nil {
		e.markProfileUnsupported(spec.ID)
		e.deps.Logger.Warn("snow profile fetch failed, disabling for model",
			zap.String("model", spec.ID), zap.Error(err))

		return
	}

	if !profileHasData(profile) {
		e.markProfileUnsupported(spec.ID)
		e.deps.Logger.Warn("snow profile came back empty, disabling for model",
			zap.String("model", spec.ID))

		return
	}

	if !mergeHourly(raw, profile) {
		e.deps.Logger.Warn("snow profile time axis mismatch, discarding",
			zap.String("model", spec.ID))
	}
}

func (e *Executor) isProfileUnsupported(modelID string) bool {
	e.profileMu.Lock()
	defer e.profileMu.Unlock()

	return e.profileUnsupported[modelID]
}

func (e *Executor) markProfileUnsupported(modelID string) {
	e.profileMu.Lock()
	defer e.profileMu.Unlock()

	e.profileUnsupported[modelID] = true
}

// profileHasData reports whether any requested pressure-level field carries
// at least one real sample. Some models accept the field set but return
// nothing but nulls.
func profileHasData(profile *domain.RawForecast) bool {
	for _, field := range snowProfileFields {
		for _, value := range profile.Hourly[field] {
			if value != nil {
				return true
			}
		}
	}

	return false
}

// snowProfileFields are the pressure-level variables of the second fetch.
// Kept in sync with the estimator's profilePressureLevels.
var snowProfileFields = func() []string {
	var fields []string

	for _, variable := range []string{"temperature", "relative_humidity", "geopotential_height"} {
		for _, hPa := range profilePressureLevels {
			fields = append(fields, profileField(variable, hPa))
		}
	}

	return fields
}()

// needsSnowProfile reports whether any hour passes the snow gates, making
// the profile fetch worthwhile.
func needsSnowProfile(raw *domain.RawForecast) bool {
	for idx := range raw.Times {
		temp := sample(raw, "temperature_2m", idx)
		precip := sample(raw, "precipitation", idx)
		code := sample(raw, "weather_code", idx)

		if temp == nil || precip == nil || code == nil {
			continue
		}

		if *precip > 0 && !domain.IsFrozenPhaseCode(int(*code)) && *temp < 15 {
			return true
		}
	}

	return false
}

// mergeHourly folds the profile payload's variables into the base payload.
// The merge only applies when both share an identical time axis.
func mergeHourly(base, extra *domain.RawForecast) bool {
	if len(base.Times) != len(extra.Times) {
		return false
	}

	for i := range base.Times {
		if base.Times[i] != extra.Times[i] {
			return false
		}
	}

	for field, values := range extra.Hourly {
		if _, ok := base.Hourly[field]; !ok {
			base.Hourly[field] = values
		}
	}

	for field, unit := range extra.HourlyUnits {
		if _, ok := base.HourlyUnits[field]; !ok {
			base.HourlyUnits[field] = unit
		}
	}

	return true
}

// stationAltitude picks the best available altitude for snow-level work:
// explicit configuration wins, then the geocoded altitude, then the model's
// elevation field.
func stationAltitude(raw *domain.RawForecast, geo *domain.GeocodeResult, altitudeM float64) float64 {
	if altitudeM > 0 {
		return altitudeM
	}

	if geo.Altitude != nil && *geo.Altitude > 0 {
		return *geo.Altitude
	}

	return raw.Elevation
}

func limitDays(dataset *domain.ProcessedDataset, days int) {
	if days > 0 && len(dataset.Days) > days {
		dataset.Days = dataset.Days[:days]
	}
}

// writeProcessed caches the pivoted dataset for inspection and for the
// fallback summary. Failures are logged and ignored.
func (e *Executor) writeProcessed(name string, spec domain.ModelSpec, dataset *domain.ProcessedDataset) string {
	slug := domain.Slugify(fmt.Sprintf("%s__%s__%s", name, spec.Kind, spec.ID))
	path := filepath.Join(e.deps.CacheRoot, "processed", slug+".json")

	data, err := json.MarshalIndent(dataset, "", "  ")

	if err != nil {
		return path
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.deps.Logger.Warn("unable to create processed cache dir", zap.Error(err))

		return path
	}

	if err := fsio.WriteFileAtomic(path, data, 0o644); err != nil {
		e.deps.Logger.Warn("unable to cache processed dataset", zap.Error(err))
	}

	return path
}

// impactContext fetches the impact briefing when impact-based forecasting is
// enabled for the entity. Provider failures degrade to no context.
func (e *Executor) impactContext(ctx context.Context, entity resolvedEntity, contextType, timezone string, log *zap.Logger) string {
	if !entity.impactBased || e.deps.Contexts == nil {
		return ""
	}

	text, err := e.deps.Contexts.ImpactContext(ctx, ports.ContextRequest{
		EntityName:   entity.display,
		ContextType:  contextType,
		ForecastDays: entity.days,
		Timezone:     timezone,
		ExtraContext: entity.extra,
		CostLabel:    entity.display,
	})

	if err != nil {
		log.Warn("impact context unavailable", zap.Error(err))

		return ""
	}

	return text
}

// generate calls the narrative model and substitutes the dataset summary on
// failure so the page still carries usable information.
func (e *Executor) generate(ctx context.Context, req ports.GenerateRequest, fallback func() string, log *zap.Logger) string {
	text, err := e.deps.Generator.Generate(ctx, req)

	if err != nil {
		log.Warn("narrative generation failed, using dataset summary", zap.Error(err))

		return fallback()
	}

	return text
}

// translate produces the second-language rendition, or "" when translation
// is disabled or fails. English targets are skipped.
func (e *Executor) translate(ctx context.Context, text, language, label string, log *zap.Logger) string {
	language = strings.TrimSpace(language)

	if language == "" || strings.HasPrefix(strings.ToLower(language), "en") {
		return ""
	}

	model := firstNonEmptyString(e.cfg.TranslationLLM, e.cfg.LLM)

	translated, err := e.deps.Generator.Generate(ctx, ports.GenerateRequest{
		Prompt:       TranslationUserPrompt(text),
		SystemPrompt: TranslationSystemPrompt(language),
		Model:        model,
		CostLabel:    label,
		CostKind:     CostKindTranslation,
	})

	if err != nil {
		log.Warn("translation failed, publishing original only",
			zap.String("language", language), zap.Error(err))

		return ""
	}

	return translated
}

func (e *Executor) renderPage(entity resolvedEntity, timezone, text, translated, impactContext string, spec domain.ModelSpec, log *zap.Logger) {
	loc, err := time.LoadLocation(timezone)

	if err != nil || timezone == "" {
		loc = time.UTC
	}

	label, ackURL := spec.CreditLine()

	page := render.Page{
		Destination:         e.pagePath(entity.slug),
		DisplayName:         entity.display,
		IssueTime:           e.deps.Clock.Now().In(loc).Format(issueTimeLayout),
		ForecastText:        text,
		TranslatedText:      translated,
		TranslationLanguage: entity.translation,
		ImpactContext:       impactContext,
		ModelLabel:          label,
		ModelAckURL:         ackURL,
	}

	if err := render.WritePage(page); err != nil {
		log.Error("unable to write forecast page", zap.Error(err))

		return
	}

	log.Info("page published", zap.String("path", page.Destination))
}

// shouldSkipRefresh reports whether the entity's page is newer than its
// refresh interval. Placeholder pages never count as fresh.
func (e *Executor) shouldSkipRefresh(entity resolvedEntity) bool {
	if entity.refresh <= 0 {
		return false
	}

	path := e.pagePath(entity.slug)
	info, err := os.Stat(path)

	if err != nil {
		return false
	}

	if e.deps.Clock.Now().Sub(info.ModTime()) >= entity.refresh {
		return false
	}

	content, err := os.ReadFile(path)

	if err != nil || render.IsPlaceholder(content) {
		return false
	}

	return true
}

func (e *Executor) recordRun(ctx context.Context, runID string, entity resolvedEntity, kind string, started time.Time, outputLen int, log *zap.Logger) {
	if e.deps.Archive == nil {
		return
	}

	record := ports.RunRecord{
		RunID:      runID,
		Slug:       entity.slug,
		Kind:       kind,
		Model:      e.cfg.LLM,
		CostCents:  e.deps.Costs.Breakdown(entity.display).Total(),
		DurationMs: e.deps.Clock.Now().Sub(started).Milliseconds(),
		OutputLen:  outputLen,
	}

	if err := e.deps.Archive.RecordRun(ctx, record); err != nil {
		log.Warn("unable to archive run record", zap.Error(err))
	}
}

// snapshotPrompt saves the exact prompts sent for one entity, then prunes
// old snapshots.
func (e *Executor) snapshotPrompt(kind, slug, systemPrompt, userPrompt string, log *zap.Logger) {
	dir := filepath.Join(e.deps.CacheRoot, "prompts")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Debug("unable to create prompt snapshot dir", zap.Error(err))

		return
	}

	stamp := e.deps.Clock.Now().UTC().Format("20060102T150405Z")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s-%s.txt", stamp, kind, slug))

	content := fmt.Sprintf("kind: %s\nname: %s\nmodel: %s\ntimestamp_utc: %s\n\n=== SYSTEM PROMPT ===\n%s\n\n=== USER PROMPT ===\n%s\n",
		kind, slug, e.cfg.LLM, stamp, systemPrompt, userPrompt)

	if err := fsio.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		log.Debug("unable to write prompt snapshot", zap.Error(err))

		return
	}

	e.cleanupSnapshots(dir, log)
}

// cleanupSnapshots keeps the newest snapshots and deletes anything older
// than the retention window beyond that.
func (e *Executor) cleanupSnapshots(dir string, log *zap.Logger) {
	entries, err := os.ReadDir(dir)

	if err != nil {
		return
	}

	var names []string

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".txt") {
			names = append(names, entry.Name())
		}
	}

	// Names start with the UTC timestamp, so lexical order is age order.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	cutoff := e.deps.Clock.Now().Add(-promptSnapshotMaxAge)

	for i, name := range names {
		if i < promptSnapshotKeep {
			continue
		}

		path := filepath.Join(dir, name)
		info, err := os.Stat(path)

		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		if err := fsio.SafeUnlink(path, dir, false); err != nil {
			log.Debug("unable to prune prompt snapshot", zap.Error(err))
		}
	}
}

// datasetSummary is the page body used when the narrative model fails: a
// terse preview of the numbers with a pointer at the cached dataset.
func datasetSummary(payload *locationPayload) string {
	var sb strings.Builder

	sb.WriteString("**Dataset preview**\n\n")

	low, high, hours := temperatureBounds(payload.Dataset)

	if hours > 0 {
		sb.WriteString(fmt.Sprintf("Temperature range: %.0f° to %.0f°\n", low, high))
		sb.WriteString(fmt.Sprintf("Max hourly precipitation: %s mm\n", trimNumber(maxPrecip(payload.Dataset))))
		sb.WriteString(fmt.Sprintf("Hours captured: %d\n", hours))
	} else {
		sb.WriteString("No hourly data was captured.\n")
	}

	if len(payload.Alerts) > 0 {
		sb.WriteString("\nActive alerts:\n")

		for i, alert := range payload.Alerts {
			if i == 3 {
				break
			}

			sb.WriteString("- " + alert.Title + "\n")
		}
	}

	sb.WriteString("\nDataset cache: " + payload.ProcessedPath + "\n")

	return sb.String()
}

func areaDatasetSummary(areaName string, payloads []*locationPayload) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("**Area dataset preview for %s**\n\n", areaName))
	sb.WriteString("Member datasets:\n")

	for _, payload := range payloads {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", payload.Name, payload.ProcessedPath))
	}

	return sb.String()
}

// temperatureBounds scans member00 across the dataset.
func temperatureBounds(dataset *domain.ProcessedDataset) (low, high float64, hours int) {
	low, high = math.Inf(1), math.Inf(-1)

	for _, day := range dataset.Days {
		for _, hour := range day.Hours {
			rec, ok := hour.Members["member00"]

			if !ok {
				continue
			}

			hours++
			low = math.Min(low, rec.Temperature)
			high = math.Max(high, rec.Temperature)
		}
	}

	return low, high, hours
}

func maxPrecip(dataset *domain.ProcessedDataset) float64 {
	var peak float64

	for _, day := range dataset.Days {
		for _, hour := range day.Hours {
			for _, rec := range hour.Members {
				peak = math.Max(peak, rec.Precipitation)
			}
		}
	}

	return peak
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
