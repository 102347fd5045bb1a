// Package workflow drives an applicant through the ordered verification
// stages and performs the single externalizing write on submission. The draft
// is an in-memory, single-owner aggregate: nothing is persisted until the
// final upsert, and a failed submit leaves the draft intact for resubmission.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	verrors "github.com/veriaddress/veriaddress-server/internal/errors"
	"github.com/veriaddress/veriaddress-server/internal/evaluator"
	"github.com/veriaddress/veriaddress-server/internal/evidence"
	"github.com/veriaddress/veriaddress-server/internal/metrics"
	"github.com/veriaddress/veriaddress-server/internal/model"
)

// Step is the applicant's position in the form.
type Step string

const (
	StepPersonal   Step = "personal"
	StepPhotos     Step = "photos"
	StepLocation   Step = "location"
	StepSubmitting Step = "submitting"
	StepSuccess    Step = "success"
)

// Guarded transition tables for the applicant-driven Next/Back actions.
// The submitting and success steps are not reachable through them.
var (
	nextStep = map[Step]Step{
		StepPersonal: StepPhotos,
		StepPhotos:   StepLocation,
	}

	prevStep = map[Step]Step{
		StepPhotos:   StepPersonal,
		StepLocation: StepPhotos,
	}
)

var (
	ErrInvalidTransition = errors.New("invalid step transition")
	ErrLocationMissing   = errors.New("captured position is required before submit")
	ErrUploadsInFlight   = errors.New("evidence uploads still in flight")
	ErrAlreadySubmitted  = errors.New("session already submitted")
)

// Store is the slice of the record store the workflow needs.
type Store interface {
	Put(ctx context.Context, record *model.VerificationRecord) error
}

// Evaluator produces the address-match verdict at submission time.
type Evaluator interface {
	Evaluate(ctx context.Context, address string, capturedLat, capturedLng *float64) evaluator.Result
}

// Notifier is told about completed submissions. Optional.
type Notifier interface {
	Submission(record *model.VerificationRecord)
}

// Options configures the controller's evidence pipeline.
type Options struct {
	ImageMaxWidth int
	ImageQuality  int
	GeotagWait    time.Duration
}

// Controller owns the applicant sessions and their collaborators.
type Controller struct {
	store     Store
	evaluator Evaluator
	metrics   metrics.Metrics
	notifier  Notifier
	logger    *slog.Logger
	options   Options

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewController creates a workflow controller. Metrics and notifier may be nil.
func NewController(store Store, eval Evaluator, m metrics.Metrics, notifier Notifier, logger *slog.Logger, options Options) *Controller {
	if m == nil {
		m = metrics.NewMetricsFake()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		store:     store,
		evaluator: eval,
		metrics:   m,
		notifier:  notifier,
		logger:    logger,
		options:   options,
		sessions:  make(map[string]*Session),
	}
}

// Open returns the session for an applicant link id, creating it on first
// use. Reopening a link only round-trips the id: a draft lost to a restart is
// not recoverable, by design.
func (c *Controller) Open(id string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id != "" {
		if session, ok := c.sessions[id]; ok {
			return session
		}
	}

	session := newSession(c, model.NewDraft(id))
	c.sessions[session.ID()] = session

	return session
}

// Session returns an existing session without creating one.
func (c *Controller) Session(id string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[id]

	return session, ok
}

// release drops a finished session from the registry.
func (c *Controller) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sessions, id)
}

func newSession(controller *Controller, draft *model.VerificationRecord) *Session {
	return &Session{
		controller: controller,
		step:       StepPersonal,
		draft:      draft,
		uploader: evidence.NewUploader(
			controller.options.ImageMaxWidth,
			controller.options.ImageQuality,
			controller.options.GeotagWait,
		),
		slotErrors: make(map[string]string),
	}
}

// Session is one applicant's pass through the form.
type Session struct {
	controller *Controller
	uploader   *evidence.Uploader

	mu         sync.Mutex
	step       Step
	draft      *model.VerificationRecord
	slotErrors map[string]string
}

// ID returns the stable record id generated or carried by the link.
func (s *Session) ID() string {
	return s.draft.ID
}

// Step returns the current step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.step
}

// Draft returns a copy of the accumulated draft.
func (s *Session) Draft() model.VerificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.draft
}

// InFlightUploads reports how many evidence uploads are still processing.
func (s *Session) InFlightUploads() int64 {
	return s.uploader.InFlight()
}

// DrainUploads blocks until every started evidence upload has completed.
func (s *Session) DrainUploads() {
	s.uploader.Drain()
}

// SlotError returns the last processing error for an evidence slot, if any.
func (s *Session) SlotError(slot string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.slotErrors[slot]

	return message, ok
}

// PersonalInfo carries the fields of the first step. All of them are
// optional: an empty submission is allowed through deliberately.
type PersonalInfo struct {
	Name            string            `json:"name"`
	Address         string            `json:"address"`
	TypeOfAddress   model.AddressType `json:"type_of_address"`
	MobileNumber    string            `json:"mobile_number"`
	StayStart       string            `json:"stay_start"`
	StayEnd         string            `json:"stay_end"`
	OwnershipStatus string            `json:"ownership_status"`
}

// SetPersonal merges the personal fields into the draft. No validation.
func (s *Session) SetPersonal(info PersonalInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step == StepSubmitting || s.step == StepSuccess {
		return ErrAlreadySubmitted
	}

	s.draft.Name = info.Name
	s.draft.Address = info.Address
	s.draft.TypeOfAddress = info.TypeOfAddress
	s.draft.MobileNumber = info.MobileNumber
	s.draft.OwnershipStatus = info.OwnershipStatus

	if info.StayStart != "" && info.StayEnd != "" {
		s.draft.PeriodOfStay = info.StayStart + " - " + info.StayEnd
	}

	return nil
}

// Next advances to the following step.
func (s *Session) Next() (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	to, ok := nextStep[s.step]
	if !ok {
		return s.step, fmt.Errorf("%w: no next step from %s", ErrInvalidTransition, s.step)
	}

	s.step = to

	return s.step, nil
}

// Back returns to the previous step, preserving the draft.
func (s *Session) Back() (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	to, ok := prevStep[s.step]
	if !ok {
		return s.step, fmt.Errorf("%w: no previous step from %s", ErrInvalidTransition, s.step)
	}

	s.step = to

	return s.step, nil
}

// AttachEvidence runs one slot's capture+compress+geotag sequence
// asynchronously. The submit gate stays closed until it completes.
func (s *Session) AttachEvidence(ctx context.Context, slot string, raw []byte, source evidence.PositionSource) error {
	if _, ok := evidence.SlotByKey(slot); !ok {
		return fmt.Errorf("unknown evidence slot %q", slot)
	}

	s.mu.Lock()
	if s.step == StepSubmitting || s.step == StepSuccess {
		s.mu.Unlock()

		return ErrAlreadySubmitted
	}

	delete(s.slotErrors, slot)
	s.mu.Unlock()

	s.uploader.Attach(ctx, slot, raw, source, func(result evidence.Result) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if result.Err != nil {
			// The slot stays empty; the applicant retries with another shot.
			s.slotErrors[slot] = result.Err.Error()

			return
		}

		_ = s.draft.SetEvidence(slot, result.Image, result.Meta)
	})

	return nil
}

// CaptureLocation records the device-reported position, set once when the
// applicant grants location access.
func (s *Session) CaptureLocation(lat, lng float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step == StepSubmitting || s.step == StepSuccess {
		return ErrAlreadySubmitted
	}

	s.draft.CapturedLat = &lat
	s.draft.CapturedLng = &lng
	s.draft.CapturedTimestamp = time.Now().UTC().Format("2006-01-02 15:04:05")

	return nil
}

// CanSubmit reports whether the submit control should be enabled.
func (s *Session) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.step == StepLocation && s.draft.CapturedLat != nil && s.uploader.InFlight() == 0
}

// Submit runs the evaluator, merges its verdict into the draft and performs
// the single upsert. A persistence failure returns the session to the
// location step with the draft intact; evaluation problems never surface
// because the evaluator degrades internally.
func (s *Session) Submit(ctx context.Context) (*model.VerificationRecord, error) {
	s.mu.Lock()

	switch {
	case s.step == StepSubmitting || s.step == StepSuccess:
		s.mu.Unlock()

		return nil, ErrAlreadySubmitted
	case s.step != StepLocation:
		s.mu.Unlock()

		return nil, fmt.Errorf("%w: submit is only allowed from %s", ErrInvalidTransition, StepLocation)
	case s.draft.CapturedLat == nil:
		s.mu.Unlock()

		return nil, ErrLocationMissing
	case s.uploader.InFlight() > 0:
		s.mu.Unlock()

		return nil, ErrUploadsInFlight
	}

	s.step = StepSubmitting
	address := s.draft.Address
	capturedLat, capturedLng := s.draft.CapturedLat, s.draft.CapturedLng
	s.mu.Unlock()

	// Evaluation is sequential with persistence and never fails.
	result := s.controller.evaluator.Evaluate(ctx, address, capturedLat, capturedLng)

	s.mu.Lock()
	s.draft.ClaimedLat = &result.ClaimedLat
	s.draft.ClaimedLng = &result.ClaimedLng
	s.draft.Comment = result.Comment

	// Evaluator fields override the draft; a missing status defaults to pass.
	if result.Status.Valid() {
		s.draft.VerificationStatus = result.Status
	} else {
		s.draft.VerificationStatus = model.StatusPass
	}

	record := *s.draft
	s.mu.Unlock()

	if err := s.controller.store.Put(ctx, &record); err != nil {
		s.mu.Lock()
		s.step = StepLocation
		s.mu.Unlock()

		s.controller.logger.Error("verification submit failed",
			slog.String("id", record.ID),
			slog.String("error", err.Error()),
		)

		return nil, verrors.WrapPersistence(err)
	}

	s.mu.Lock()
	s.draft.CreatedAt = record.CreatedAt
	s.step = StepSuccess
	s.mu.Unlock()

	s.controller.metrics.LogRecordEvent("submission", record.ID, map[string]interface{}{
		"status": string(record.VerificationStatus),
	})

	if s.controller.notifier != nil {
		s.controller.notifier.Submission(&record)
	}

	s.controller.release(record.ID)

	return &record, nil
}
