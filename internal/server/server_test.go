package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/veriaddress/veriaddress-server/internal/config"
	"github.com/veriaddress/veriaddress-server/internal/evaluator"
	"github.com/veriaddress/veriaddress-server/internal/model"
	"github.com/veriaddress/veriaddress-server/internal/storage"
	"github.com/veriaddress/veriaddress-server/internal/workflow"
)

type testEnv struct {
	srv  *Server
	db   *storage.Storage
	flow *workflow.Controller
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		Secret:  secret,
		BaseURL: "http://localhost:8080",
		Database: config.DatabaseConfig{
			Driver:     "sqlite3",
			Connection: "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared",
		},
		API: config.APIConfig{
			Host:    "localhost",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
	}

	db, err := storage.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	eval, err := evaluator.New(config.EvaluatorConfig{}, nil, logger, nil)
	require.NoError(t, err)
	t.Cleanup(eval.Close)

	flow := workflow.NewController(db, eval, nil, nil, logger, workflow.Options{})

	return &testEnv{
		srv:  New(cfg, db, flow, logger),
		db:   db,
		flow: flow,
	}
}

func (env *testEnv) request(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return body
}

func encodedImage(t *testing.T) string {
	t.Helper()

	var buf bytes.Buffer

	img := imaging.New(64, 48, color.NRGBA{R: 40, G: 90, B: 160, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func seedRecord(t *testing.T, env *testEnv, id, name string, age time.Duration) {
	t.Helper()

	record := model.NewDraft(id)
	record.Name = name
	createdAt := time.Now().UTC().Add(-age)
	record.CreatedAt = &createdAt

	require.NoError(t, env.db.Put(context.Background(), record))
}

func TestEndToEndVerification(t *testing.T) {
	env := newTestEnv(t, "")

	seedRecord(t, env, "older0000001", "First Fixture", 48*time.Hour)
	seedRecord(t, env, "older0000002", "Second Fixture", 24*time.Hour)

	// Placeholder record the administrator shares a link for.
	rec := env.request(t, http.MethodPost, "/verifications", map[string]any{
		"id":                  "abc123",
		"name":                "Pending Applicant",
		"verification_status": "pending",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "abc123", decodeBody(t, rec)["id"])

	rec = env.request(t, http.MethodGet, "/verifications/abc123", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pending", decodeBody(t, rec)["verification_status"])

	// The applicant opens the link and walks the form.
	rec = env.request(t, http.MethodPost, "/sessions", map[string]any{"id": "abc123"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "personal", decodeBody(t, rec)["step"])

	rec = env.request(t, http.MethodPut, "/sessions/abc123/personal", map[string]any{
		"name":    "Asha Rao",
		"address": "12 MG Road, Bengaluru",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodPost, "/sessions/abc123/advance", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "photos", decodeBody(t, rec)["step"])

	rec = env.request(t, http.MethodPost, "/sessions/abc123/evidence/selfie", map[string]any{
		"image": encodedImage(t),
		"lat":   12.0,
		"lng":   77.0,
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	session, ok := env.flow.Session("abc123")
	require.True(t, ok)
	session.DrainUploads()

	rec = env.request(t, http.MethodPost, "/sessions/abc123/advance", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "location", decodeBody(t, rec)["step"])

	rec = env.request(t, http.MethodPost, "/sessions/abc123/location", map[string]any{
		"lat": 12.0,
		"lng": 77.0,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["can_submit"])

	rec = env.request(t, http.MethodPost, "/sessions/abc123/submit", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	submitted := decodeBody(t, rec)
	require.Equal(t, true, submitted["success"])
	require.Equal(t, "abc123", submitted["id"])

	// The stored record now carries the verdict and the fallback coordinates.
	rec = env.request(t, http.MethodGet, "/verifications/abc123", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stored := decodeBody(t, rec)
	require.Equal(t, "pass", stored["verification_status"])
	require.InDelta(t, 12.002, stored["claimed_lat"].(float64), 1e-9)
	require.InDelta(t, 77.002, stored["claimed_lng"].(float64), 1e-9)
	require.NotEmpty(t, stored["selfie"])

	// Newest first: the fresh submission leads the listing.
	rec = env.request(t, http.MethodGet, "/verifications", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []model.VerificationRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 3)
	require.Equal(t, "abc123", listed[0].ID)
}

func TestPutVerificationRequiresID(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.request(t, http.MethodPost, "/verifications", map[string]any{"name": "No ID"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, false, body["success"])
	require.NotEmpty(t, body["error"])
}

func TestGetVerificationNotFound(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.request(t, http.MethodGet, "/verifications/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetVerificationETag(t *testing.T) {
	env := newTestEnv(t, "")
	seedRecord(t, env, "etag00000001", "Asha Rao", 0)

	rec := env.request(t, http.MethodGet, "/verifications/etag00000001", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = env.request(t, http.MethodGet, "/verifications/etag00000001", nil, map[string]string{
		"If-None-Match": etag,
	})
	require.Equal(t, http.StatusNotModified, rec.Code)
}

func TestAdminGroupRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t, "s3cret")

	rec := env.request(t, http.MethodGet, "/verifications", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodGet, "/verifications", nil, map[string]string{
		"Authorization": "Bearer wrong",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodGet, "/verifications", nil, map[string]string{
		"Authorization": "Bearer s3cret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The applicant surface stays open.
	rec = env.request(t, http.MethodPost, "/verifications", map[string]any{"id": "public000001"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateLink(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.request(t, http.MethodPost, "/verifications/links", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	id, ok := body["id"].(string)
	require.True(t, ok)
	require.Len(t, id, 13)
	require.Equal(t, "http://localhost:8080/?verify="+id, body["link"])

	rec = env.request(t, http.MethodGet, "/verifications/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Pending Applicant", decodeBody(t, rec)["name"])
}

func TestDeleteAllReportsCount(t *testing.T) {
	env := newTestEnv(t, "")
	seedRecord(t, env, "delete000001", "One", 0)
	seedRecord(t, env, "delete000002", "Two", 0)

	rec := env.request(t, http.MethodDelete, "/verifications", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(2), decodeBody(t, rec)["deleted"])

	rec = env.request(t, http.MethodDelete, "/verifications/delete000001", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListSupportsSearch(t *testing.T) {
	env := newTestEnv(t, "")
	seedRecord(t, env, "search000001", "Asha Rao", 0)
	seedRecord(t, env, "search000002", "Vikram Singh", 0)

	rec := env.request(t, http.MethodGet, "/verifications?q=asha", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []model.VerificationRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	require.Equal(t, "Asha Rao", listed[0].Name)
}

func TestReportSurfaces(t *testing.T) {
	env := newTestEnv(t, "")

	record := model.NewDraft("report000001")
	record.Name = "Asha Rao"
	record.Address = "12 MG Road, Bengaluru"
	record.VerificationStatus = model.StatusPass
	lat, lng := 12.0, 77.0
	claimedLat, claimedLng := 12.002, 77.002
	record.CapturedLat, record.CapturedLng = &lat, &lng
	record.ClaimedLat, record.ClaimedLng = &claimedLat, &claimedLng
	require.NoError(t, env.db.Put(context.Background(), record))

	rec := env.request(t, http.MethodGet, "/verifications/report000001/report", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	view := decodeBody(t, rec)
	require.Equal(t, "Employee Residential Address Verification Form", view["title"])
	require.InDelta(t, 0.31, view["distance_km"].(float64), 0.001)

	rec = env.request(t, http.MethodGet, "/verifications/report000001/report/print", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "0.31 km")

	rec = env.request(t, http.MethodGet, "/verifications/report000001/report/pdf", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "Verification-"+record.RefID+".pdf")
	require.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))
}

func TestSessionNotFound(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.request(t, http.MethodGet, "/sessions/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitBeforeLocationIsRejected(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.request(t, http.MethodPost, "/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	id := decodeBody(t, rec)["id"].(string)

	rec = env.request(t, http.MethodPost, "/sessions/"+id+"/submit", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
