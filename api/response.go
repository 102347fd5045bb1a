package api

import (
	"encoding/json"
	"net/http"
)

// Response is the envelope for mutation and error responses. Read endpoints
// return the record JSON directly, without the envelope.
type Response struct {
	Success bool        `json:"success"`
	ID      string      `json:"id,omitempty"`
	Link    string      `json:"link,omitempty"`
	Deleted *int64      `json:"deleted,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SetID sets the record id of a successful mutation.
func (rsp *Response) SetID(id string) {
	rsp.ID = id
}

// SetLink sets the shareable applicant link.
func (rsp *Response) SetLink(link string) {
	rsp.Link = link
}

// SetDeleted sets the bulk-delete count.
func (rsp *Response) SetDeleted(count int64) {
	rsp.Deleted = &count
}

// SetData attaches an arbitrary payload.
func (rsp *Response) SetData(data interface{}) {
	rsp.Data = data
}

// SetError sets the error message.
func (rsp *Response) SetError(message string) {
	rsp.Error = message
}

func (rsp *Response) write(w http.ResponseWriter, status int, success bool, fallback string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	rsp.Success = success
	if !success && rsp.Error == "" {
		rsp.Error = fallback
	}

	_ = json.NewEncoder(w).Encode(rsp)
}

// Send success response to client
func (rsp *Response) Ok(w http.ResponseWriter) {
	rsp.write(w, http.StatusOK, true, "")
}

// Send created response to client
func (rsp *Response) Created(w http.ResponseWriter) {
	rsp.write(w, http.StatusCreated, true, "")
}

// Send error response to client
func (rsp *Response) BadRequest(w http.ResponseWriter) {
	rsp.write(w, http.StatusBadRequest, false, "Bad request")
}

// Send error response to client
func (rsp *Response) NotFound(w http.ResponseWriter) {
	rsp.write(w, http.StatusNotFound, false, "Not found")
}

// Send error response to client
func (rsp *Response) InternalServerError(w http.ResponseWriter) {
	rsp.write(w, http.StatusInternalServerError, false, "Internal server error")
}

// Send error response to client
func (rsp *Response) Unauthorized(w http.ResponseWriter) {
	rsp.write(w, http.StatusUnauthorized, false, "Unauthorized")
}

// Send error response to client
func (rsp *Response) MethodNotAllowed(w http.ResponseWriter) {
	rsp.write(w, http.StatusMethodNotAllowed, false, "Method not allowed")
}
