package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/veriaddress/veriaddress-server/api"
	verrors "github.com/veriaddress/veriaddress-server/internal/errors"
	"github.com/veriaddress/veriaddress-server/internal/evidence"
	"github.com/veriaddress/veriaddress-server/internal/model"
	"github.com/veriaddress/veriaddress-server/internal/report"
	"github.com/veriaddress/veriaddress-server/internal/workflow"
)

// sessionView is the applicant-facing projection of a workflow session.
type sessionView struct {
	ID              string                   `json:"id"`
	Step            workflow.Step            `json:"step"`
	InFlightUploads int64                    `json:"in_flight_uploads"`
	CanSubmit       bool                     `json:"can_submit"`
	Slots           []evidence.Slot          `json:"slots"`
	Draft           model.VerificationRecord `json:"draft"`
}

func newSessionView(session *workflow.Session) sessionView {
	return sessionView{
		ID:              session.ID(),
		Step:            session.Step(),
		InFlightUploads: session.InFlightUploads(),
		CanSubmit:       session.CanSubmit(),
		Slots:           evidence.Slots(),
		Draft:           session.Draft(),
	}
}

// session resolves the session from the URL, answering 404 itself when the
// session does not exist.
func (srv *Server) session(w http.ResponseWriter, r *http.Request) (*workflow.Session, bool) {
	id := chi.URLParam(r, "id")

	session, ok := srv.flow.Session(id)
	if !ok {
		rsp := &api.Response{}
		rsp.SetError("Session not found")
		rsp.NotFound(w)

		return nil, false
	}

	return session, true
}

func (srv *Server) openSessionRoute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}

	if r.ContentLength != 0 {
		if err := render.Decode(r, &body); err != nil {
			rsp := &api.Response{}
			rsp.SetError(err.Error())
			rsp.BadRequest(w)

			return
		}
	}

	session := srv.flow.Open(body.ID)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newSessionView(session))
}

func (srv *Server) sessionRoute(w http.ResponseWriter, r *http.Request) {
	session, ok := srv.session(w, r)
	if !ok {
		return
	}

	render.JSON(w, r, newSessionView(session))
}

func (srv *Server) advanceSessionRoute(w http.ResponseWriter, r *http.Request) {
	session, ok := srv.session(w, r)
	if !ok {
		return
	}

	if _, err := session.Next(); err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.BadRequest(w)

		return
	}

	render.JSON(w, r, newSessionView(session))
}

func (srv *Server) backSessionRoute(w http.ResponseWriter, r *http.Request) {
	session, ok := srv.session(w, r)
	if !ok {
		return
	}

	if _, err := session.Back(); err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.BadRequest(w)

		return
	}

	render.JSON(w, r, newSessionView(session))
}

func (srv *Server) personalRoute(w http.ResponseWriter, r *http.Request) {
	session, ok := srv.session(w, r)
	if !ok {
		return
	}

	var info workflow.PersonalInfo
	if err := render.Decode(r, &info); err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.BadRequest(w)

		return
	}

	if err := session.SetPersonal(info); err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.BadRequest(w)

		return
	}

	render.JSON(w, r, newSessionView(session))
}

func (srv *Server) evidenceRoute(w http.ResponseWriter, r *http.Request) {
	session, ok := srv.session(w, r)
	if !ok {
		return
	}

	var body struct {
		Image string   `json:"image"`
		Lat   *float64 `json:"lat"`
		Lng   *float64 `json:"lng"`
	}

	if err := render.Decode(r, &body); err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.BadRequest(w)

		return
	}

	raw, err := decodeImagePayload(body.Image)
	if err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.BadRequest(w)

		return
	}

	source := evidence.NoPosition()
	if body.Lat != nil && body.Lng != nil {
		source = evidence.StaticPosition{Lat: *body.Lat, Lng: *body.Lng}
	}

	// Processing outlives the request; the submit gate tracks it.
	if err := session.AttachEvidence(context.Background(), chi.URLParam(r, "slot"), raw, source); err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.BadRequest(w)

		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, newSessionView(session))
}

func (srv *Server) locationRoute(w http.ResponseWriter, r *http.Request) {
	session, ok := srv.session(w, r)
	if !ok {
		return
	}

	var body struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}

	if err := render.Decode(r, &body); err != nil || body.Lat == nil || body.Lng == nil {
		rsp := &api.Response{}
		rsp.SetError("lat and lng are required")
		rsp.BadRequest(w)

		return
	}

	if err := session.CaptureLocation(*body.Lat, *body.Lng); err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.BadRequest(w)

		return
	}

	render.JSON(w, r, newSessionView(session))
}

func (srv *Server) submitRoute(w http.ResponseWriter, r *http.Request) {
	session, ok := srv.session(w, r)
	if !ok {
		return
	}

	record, err := session.Submit(r.Context())

	switch {
	case err == nil:
	case errors.Is(err, verrors.ErrPersistence):
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.InternalServerError(w)

		return
	default:
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.BadRequest(w)

		return
	}

	rsp := &api.Response{}
	rsp.SetID(record.ID)
	rsp.SetData(map[string]any{
		"ref_id":              record.RefID,
		"verification_status": record.VerificationStatus,
	})
	rsp.Ok(w)
}

func (srv *Server) putVerificationRoute(w http.ResponseWriter, r *http.Request) {
	var record model.VerificationRecord
	if err := render.Decode(r, &record); err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.BadRequest(w)

		return
	}

	if err := srv.db.Put(r.Context(), &record); err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())

		if errors.Is(err, verrors.ErrMissingID) {
			rsp.BadRequest(w)
		} else {
			rsp.InternalServerError(w)
		}

		return
	}

	rsp := &api.Response{}
	rsp.SetID(record.ID)
	rsp.Created(w)
}

func (srv *Server) getVerificationRoute(w http.ResponseWriter, r *http.Request) {
	record, ok := srv.record(w, r)
	if !ok {
		return
	}

	if hash, err := record.Hash(); err == nil {
		etag := `"` + hash + `"`
		w.Header().Set("ETag", etag)

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)

			return
		}
	}

	render.JSON(w, r, record)
}

func (srv *Server) listVerificationsRoute(w http.ResponseWriter, r *http.Request) {
	var (
		records []model.VerificationRecord
		err     error
	)

	if query := r.URL.Query().Get("q"); query != "" {
		records, err = srv.db.Search(r.Context(), query)
	} else {
		records, err = srv.db.All(r.Context())
	}

	if err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.InternalServerError(w)

		return
	}

	if records == nil {
		records = []model.VerificationRecord{}
	}

	render.JSON(w, r, records)
}

func (srv *Server) createLinkRoute(w http.ResponseWriter, r *http.Request) {
	draft := model.NewDraft("")
	draft.Name = "Pending Applicant"

	if err := srv.db.Put(r.Context(), draft); err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.InternalServerError(w)

		return
	}

	rsp := &api.Response{}
	rsp.SetID(draft.ID)
	rsp.SetLink(srv.baseURL + "/?verify=" + draft.ID)
	rsp.Created(w)
}

func (srv *Server) deleteVerificationRoute(w http.ResponseWriter, r *http.Request) {
	if err := srv.db.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.InternalServerError(w)

		return
	}

	rsp := &api.Response{}
	rsp.Ok(w)
}

func (srv *Server) deleteAllVerificationsRoute(w http.ResponseWriter, r *http.Request) {
	count, err := srv.db.DeleteAll(r.Context())
	if err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.InternalServerError(w)

		return
	}

	rsp := &api.Response{}
	rsp.SetDeleted(count)
	rsp.Ok(w)
}

func (srv *Server) reportRoute(w http.ResponseWriter, r *http.Request) {
	record, ok := srv.record(w, r)
	if !ok {
		return
	}

	render.JSON(w, r, report.Compose(record))
}

func (srv *Server) reportPrintRoute(w http.ResponseWriter, r *http.Request) {
	record, ok := srv.record(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := report.RenderPrint(w, report.Compose(record)); err != nil {
		srv.logger.Error("print report rendering failed",
			slog.String("id", record.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (srv *Server) reportPDFRoute(w http.ResponseWriter, r *http.Request) {
	record, ok := srv.record(w, r)
	if !ok {
		return
	}

	view := report.Compose(record)

	// Rendered to a buffer first so a failure can still answer with a 500.
	var buf bytes.Buffer
	if err := report.RenderPDF(&buf, view); err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())
		rsp.InternalServerError(w)

		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+view.Filename+`"`)
	_, _ = buf.WriteTo(w)
}

// record resolves the verification record from the URL, answering 404 itself
// when the record does not exist.
func (srv *Server) record(w http.ResponseWriter, r *http.Request) (*model.VerificationRecord, bool) {
	record, err := srv.db.ByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		rsp := &api.Response{}
		rsp.SetError(err.Error())

		if errors.Is(err, verrors.ErrNotFound) {
			rsp.NotFound(w)
		} else {
			rsp.InternalServerError(w)
		}

		return nil, false
	}

	return record, true
}

// decodeImagePayload accepts either a data URI or plain base64 image bytes.
func decodeImagePayload(payload string) ([]byte, error) {
	if payload == "" {
		return nil, verrors.ErrImageDecode
	}

	if strings.HasPrefix(payload, "data:") {
		return evidence.DecodeDataURI(payload)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, verrors.WrapImageDecode(err)
	}

	return raw, nil
}
