package workflow

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	verrors "github.com/veriaddress/veriaddress-server/internal/errors"
	"github.com/veriaddress/veriaddress-server/internal/evaluator"
	"github.com/veriaddress/veriaddress-server/internal/evidence"
	"github.com/veriaddress/veriaddress-server/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	err     error
	records map[string]model.VerificationRecord
}

func (s *fakeStore) Put(_ context.Context, record *model.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	if record.CreatedAt == nil {
		now := time.Now().UTC()
		record.CreatedAt = &now
	}

	if s.records == nil {
		s.records = make(map[string]model.VerificationRecord)
	}

	s.records[record.ID] = *record

	return nil
}

type fakeEvaluator struct {
	result evaluator.Result
}

func (e *fakeEvaluator) Evaluate(context.Context, string, *float64, *float64) evaluator.Result {
	return e.result
}

type fakeNotifier struct {
	mu     sync.Mutex
	record *model.VerificationRecord
}

func (n *fakeNotifier) Submission(record *model.VerificationRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.record = record
}

type slowSource struct {
	delay time.Duration
}

func (s slowSource) Position(ctx context.Context) (evidence.Position, error) {
	select {
	case <-time.After(s.delay):
		return evidence.Position{Lat: 12.0, Lng: 77.0}, nil
	case <-ctx.Done():
		return evidence.Position{}, ctx.Err()
	}
}

func newTestController(store Store, eval Evaluator, notifier Notifier) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewController(store, eval, nil, notifier, logger, Options{GeotagWait: time.Second})
}

func passResult() evaluator.Result {
	return evaluator.Result{
		Status:     model.StatusPass,
		Comment:    "Address matches GPS location",
		ClaimedLat: 12.002,
		ClaimedLng: 77.002,
	}
}

func rawImage(t *testing.T, width, height int) []byte {
	t.Helper()

	var buf bytes.Buffer

	img := imaging.New(width, height, color.NRGBA{R: 120, G: 30, B: 200, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))

	return buf.Bytes()
}

func toLocation(t *testing.T, session *Session) {
	t.Helper()

	step, err := session.Next()
	require.NoError(t, err)
	require.Equal(t, StepPhotos, step)

	step, err = session.Next()
	require.NoError(t, err)
	require.Equal(t, StepLocation, step)
}

func TestSessionStepsAdvanceAndRewind(t *testing.T) {
	controller := newTestController(&fakeStore{}, &fakeEvaluator{result: passResult()}, nil)
	session := controller.Open("")

	require.Equal(t, StepPersonal, session.Step())
	require.Len(t, session.ID(), 13)

	toLocation(t, session)

	_, err := session.Next()
	require.ErrorIs(t, err, ErrInvalidTransition)

	step, err := session.Back()
	require.NoError(t, err)
	require.Equal(t, StepPhotos, step)

	step, err = session.Back()
	require.NoError(t, err)
	require.Equal(t, StepPersonal, step)

	_, err = session.Back()
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOpenReturnsExistingSession(t *testing.T) {
	controller := newTestController(&fakeStore{}, &fakeEvaluator{result: passResult()}, nil)

	first := controller.Open("abc123")
	require.Equal(t, "abc123", first.ID())

	second := controller.Open("abc123")
	require.Same(t, first, second)

	other := controller.Open("")
	require.NotSame(t, first, other)
}

func TestSetPersonalComposesPeriodOfStay(t *testing.T) {
	controller := newTestController(&fakeStore{}, &fakeEvaluator{result: passResult()}, nil)
	session := controller.Open("")

	require.NoError(t, session.SetPersonal(PersonalInfo{
		Name:          "Asha Rao",
		Address:       "12 MG Road, Bengaluru",
		TypeOfAddress: model.AddressPermanent,
		StayStart:     "2020-01-01",
		StayEnd:       "2024-06-30",
	}))

	draft := session.Draft()
	require.Equal(t, "Asha Rao", draft.Name)
	require.Equal(t, "2020-01-01 - 2024-06-30", draft.PeriodOfStay)

	// A single boundary date leaves the period untouched.
	require.NoError(t, session.SetPersonal(PersonalInfo{Name: "Asha Rao", StayStart: "2020-01-01"}))
	require.Empty(t, session.Draft().PeriodOfStay)
}

func TestAttachEvidenceStoresCompressedImage(t *testing.T) {
	controller := newTestController(&fakeStore{}, &fakeEvaluator{result: passResult()}, nil)
	session := controller.Open("")

	source := evidence.StaticPosition{Lat: 12.9716, Lng: 77.5946}
	require.NoError(t, session.AttachEvidence(context.Background(), model.SlotSelfie, rawImage(t, 64, 48), source))

	session.DrainUploads()

	draft := session.Draft()
	require.Contains(t, draft.Selfie, "data:image/jpeg;base64,")
	require.NotNil(t, draft.SelfieMeta)
	require.Equal(t, "12.9716000,77.5946000", draft.SelfieMeta.Location)
}

func TestAttachEvidenceRejectsUnknownSlot(t *testing.T) {
	controller := newTestController(&fakeStore{}, &fakeEvaluator{result: passResult()}, nil)
	session := controller.Open("")

	err := session.AttachEvidence(context.Background(), "passport", rawImage(t, 8, 8), evidence.NoPosition())
	require.Error(t, err)
}

func TestAttachEvidenceRecordsDecodeError(t *testing.T) {
	controller := newTestController(&fakeStore{}, &fakeEvaluator{result: passResult()}, nil)
	session := controller.Open("")

	require.NoError(t, session.AttachEvidence(context.Background(), model.SlotSelfie, []byte("not an image"), evidence.NoPosition()))
	session.DrainUploads()

	message, ok := session.SlotError(model.SlotSelfie)
	require.True(t, ok)
	require.NotEmpty(t, message)
	require.Empty(t, session.Draft().Selfie)
}

func TestSubmitRequiresLocationStep(t *testing.T) {
	controller := newTestController(&fakeStore{}, &fakeEvaluator{result: passResult()}, nil)
	session := controller.Open("")

	_, err := session.Submit(context.Background())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmitRequiresCapturedPosition(t *testing.T) {
	controller := newTestController(&fakeStore{}, &fakeEvaluator{result: passResult()}, nil)
	session := controller.Open("")
	toLocation(t, session)

	require.False(t, session.CanSubmit())

	_, err := session.Submit(context.Background())
	require.ErrorIs(t, err, ErrLocationMissing)
}

func TestSubmitWaitsForUploads(t *testing.T) {
	controller := newTestController(&fakeStore{}, &fakeEvaluator{result: passResult()}, nil)
	session := controller.Open("")
	toLocation(t, session)

	require.NoError(t, session.CaptureLocation(12.0, 77.0))
	require.NoError(t, session.AttachEvidence(context.Background(), model.SlotLandmarkPicture, rawImage(t, 32, 32), slowSource{delay: 200 * time.Millisecond}))

	if session.InFlightUploads() > 0 {
		require.False(t, session.CanSubmit())

		_, err := session.Submit(context.Background())
		require.ErrorIs(t, err, ErrUploadsInFlight)
		require.Equal(t, StepLocation, session.Step())
	}

	session.DrainUploads()
	require.True(t, session.CanSubmit())

	record, err := session.Submit(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, record.LandmarkPicture)
}

func TestSubmitMergesVerdictAndPersists(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	controller := newTestController(store, &fakeEvaluator{result: evaluator.Result{
		Status:     model.StatusFail,
		Comment:    "GPS location is 4.20 km away from the claimed address",
		ClaimedLat: 12.04,
		ClaimedLng: 77.04,
	}}, notifier)

	session := controller.Open("")
	toLocation(t, session)
	require.NoError(t, session.CaptureLocation(12.0, 77.0))

	record, err := session.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, StepSuccess, session.Step())

	require.Equal(t, model.StatusFail, record.VerificationStatus)
	require.Equal(t, "GPS location is 4.20 km away from the claimed address", record.Comment)
	require.NotNil(t, record.ClaimedLat)
	require.InDelta(t, 12.04, *record.ClaimedLat, 1e-9)
	require.NotNil(t, record.CreatedAt)

	stored, ok := store.records[record.ID]
	require.True(t, ok)
	require.Equal(t, model.StatusFail, stored.VerificationStatus)

	require.NotNil(t, notifier.record)
	require.Equal(t, record.ID, notifier.record.ID)

	// A finished session leaves the registry.
	_, ok = controller.Session(record.ID)
	require.False(t, ok)

	_, err = session.Submit(context.Background())
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestSubmitDefaultsStatusToPass(t *testing.T) {
	store := &fakeStore{}
	controller := newTestController(store, &fakeEvaluator{result: evaluator.Result{
		Comment:    "Verified manually by system.",
		ClaimedLat: 12.002,
		ClaimedLng: 77.002,
	}}, nil)

	session := controller.Open("")
	toLocation(t, session)
	require.NoError(t, session.CaptureLocation(12.0, 77.0))

	record, err := session.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.StatusPass, record.VerificationStatus)
}

func TestSubmitStoreFailureKeepsDraft(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	controller := newTestController(store, &fakeEvaluator{result: passResult()}, nil)

	session := controller.Open("")
	require.NoError(t, session.SetPersonal(PersonalInfo{Name: "Asha Rao"}))
	toLocation(t, session)
	require.NoError(t, session.CaptureLocation(12.0, 77.0))

	_, err := session.Submit(context.Background())
	require.ErrorIs(t, err, verrors.ErrPersistence)
	require.Equal(t, StepLocation, session.Step())
	require.Equal(t, "Asha Rao", session.Draft().Name)

	// The applicant retries once the store recovers.
	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	record, err := session.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Asha Rao", record.Name)
	require.Equal(t, StepSuccess, session.Step())
}
