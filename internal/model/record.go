package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veriaddress/veriaddress-server/internal/utility"
)

// VerificationStatus is the outcome of an address verification.
type VerificationStatus string

const (
	StatusPending VerificationStatus = "pending"
	StatusPass    VerificationStatus = "pass"
	StatusFail    VerificationStatus = "fail"
)

// Valid reports whether the status is one of the known outcomes.
func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPass, StatusFail:
		return true
	default:
		return false
	}
}

// AddressType classifies the claimed residence.
type AddressType string

const (
	AddressPermanent AddressType = "Permanent"
	AddressTemporary AddressType = "Temporary"
	AddressRented    AddressType = "Rented"
)

// PhotoMetadata is the geotag captured alongside an evidence photo.
// Location is "lat,lng" with 7-decimal precision; Timestamp uses the
// EXIF-like "2006:01:02 15:04:05" layout.
type PhotoMetadata struct {
	Timestamp string `json:"timestamp"`
	Location  string `json:"location"`
}

// Value implements driver.Valuer so the geotag is stored as a JSON column.
func (m PhotoMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for the JSON column.
func (m *PhotoMetadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unexpected photo metadata column type %T", value)
	}
}

// VerificationRecord is the sole persisted entity: one applicant's address
// verification, accumulated by the workflow and written once on submission.
type VerificationRecord struct {
	ID            string `hash:"x" gorm:"primaryKey" json:"id"`
	InstructionID string `hash:"x" json:"instruction_id"` // Display identifier INS-XXXXXX, assigned once.
	RefID         string `hash:"x" json:"ref_id"`         // Display identifier REF-XXXXXX, assigned once.

	// Personal fields; all optional by design.
	Name             string      `hash:"x" json:"name"`
	Address          string      `hash:"x" json:"address"`
	TypeOfAddress    AddressType `json:"type_of_address"`
	MobileNumber     string      `json:"mobile_number"`
	PeriodOfStay     string      `json:"period_of_stay"` // "start - end", composed from two dates.
	VerificationDate string      `json:"verification_date"`
	OwnershipStatus  string      `json:"ownership_status"`

	// Evidence fields: compressed images as data URIs, with per-photo geotags.
	Selfie               string         `gorm:"type:text" json:"selfie,omitempty"`
	LocationPicture      string         `gorm:"type:text" json:"location_picture,omitempty"`
	IDProofRelative      string         `gorm:"type:text" json:"id_proof_relative,omitempty"`
	IDProofCandidate     string         `gorm:"type:text" json:"id_proof_candidate,omitempty"`
	LandmarkPicture      string         `gorm:"type:text" json:"landmark_picture,omitempty"`
	SelfieMeta           *PhotoMetadata `gorm:"type:text" json:"selfie_meta,omitempty"`
	LocationPictureMeta  *PhotoMetadata `gorm:"type:text" json:"location_picture_meta,omitempty"`
	IDProofRelativeMeta  *PhotoMetadata `gorm:"type:text" json:"id_proof_relative_meta,omitempty"`
	IDProofCandidateMeta *PhotoMetadata `gorm:"type:text" json:"id_proof_candidate_meta,omitempty"`
	LandmarkPictureMeta  *PhotoMetadata `gorm:"type:text" json:"landmark_picture_meta,omitempty"`

	// Device-reported position, set once when the applicant grants access.
	CapturedLat       *float64 `json:"captured_lat,omitempty"`
	CapturedLng       *float64 `json:"captured_lng,omitempty"`
	CapturedTimestamp string   `json:"captured_timestamp,omitempty"`

	// Geocoded position of the claimed address; present iff evaluation has run.
	ClaimedLat *float64 `json:"claimed_lat,omitempty"`
	ClaimedLng *float64 `json:"claimed_lng,omitempty"`

	// Outcome fields.
	VerificationStatus VerificationStatus `hash:"x" json:"verification_status"`
	Comment            string             `hash:"x" json:"comment"`

	// Set exactly once at first persistence, preserved on every later upsert.
	CreatedAt *time.Time `gorm:"<-:create" json:"created_at,omitempty"`
}

// TableName - set the table name
func (VerificationRecord) TableName() string {
	return "verifications"
}

// GetID - get the record ID
func (obj *VerificationRecord) GetID() string {
	return obj.ID
}

// Hash - calculate the hash of the record
func (obj *VerificationRecord) Hash() (string, error) {
	return utility.Hash(obj)
}

// Evaluated reports whether the address-match evaluator has run for this record.
func (obj *VerificationRecord) Evaluated() bool {
	return obj.ClaimedLat != nil && obj.ClaimedLng != nil
}

// NewDraft creates the in-memory draft a session starts from. When the
// applicant link carried no id a fresh random one is generated; display
// identifiers are assigned here and stay stable for the life of the draft.
func NewDraft(id string) *VerificationRecord {
	const idLength = 13

	if id == "" {
		id = utility.Token(idLength)
	}

	return &VerificationRecord{
		ID:                 id,
		InstructionID:      utility.DisplayToken("INS"),
		RefID:              utility.DisplayToken("REF"),
		VerificationStatus: StatusPending,
		VerificationDate:   time.Now().UTC().Format("2006-01-02"),
	}
}

var errorUnknownEvidenceSlot = errors.New("unknown evidence slot")

// Evidence slot keys. Five near-identical upload widgets in the client map to
// one parameterized slot per key here.
const (
	SlotSelfie           = "selfie"
	SlotLocationPicture  = "location_picture"
	SlotIDProofRelative  = "id_proof_relative"
	SlotIDProofCandidate = "id_proof_candidate"
	SlotLandmarkPicture  = "landmark_picture"
)

// SlotKeys lists all evidence slots in display order.
func SlotKeys() []string {
	return []string{
		SlotSelfie,
		SlotLocationPicture,
		SlotIDProofRelative,
		SlotIDProofCandidate,
		SlotLandmarkPicture,
	}
}

// SetEvidence stores a compressed image and its optional geotag under a slot key.
func (obj *VerificationRecord) SetEvidence(slot, image string, meta *PhotoMetadata) error {
	switch slot {
	case SlotSelfie:
		obj.Selfie, obj.SelfieMeta = image, meta
	case SlotLocationPicture:
		obj.LocationPicture, obj.LocationPictureMeta = image, meta
	case SlotIDProofRelative:
		obj.IDProofRelative, obj.IDProofRelativeMeta = image, meta
	case SlotIDProofCandidate:
		obj.IDProofCandidate, obj.IDProofCandidateMeta = image, meta
	case SlotLandmarkPicture:
		obj.LandmarkPicture, obj.LandmarkPictureMeta = image, meta
	default:
		return fmt.Errorf("%w: %s", errorUnknownEvidenceSlot, slot)
	}

	return nil
}

// Evidence returns the stored image and geotag for a slot key.
func (obj *VerificationRecord) Evidence(slot string) (string, *PhotoMetadata, error) {
	switch slot {
	case SlotSelfie:
		return obj.Selfie, obj.SelfieMeta, nil
	case SlotLocationPicture:
		return obj.LocationPicture, obj.LocationPictureMeta, nil
	case SlotIDProofRelative:
		return obj.IDProofRelative, obj.IDProofRelativeMeta, nil
	case SlotIDProofCandidate:
		return obj.IDProofCandidate, obj.IDProofCandidateMeta, nil
	case SlotLandmarkPicture:
		return obj.LandmarkPicture, obj.LandmarkPictureMeta, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", errorUnknownEvidenceSlot, slot)
	}
}
