// Package report projects a verification record into the report view and
// renders it as JSON, a printable HTML page or a PDF download. All three
// surfaces render the same View, so the distance and fallback texts cannot
// drift between them.
package report

import (
	"fmt"

	"github.com/veriaddress/veriaddress-server/internal/geo"
	"github.com/veriaddress/veriaddress-server/internal/model"
)

const (
	headerTitle  = "Employee Residential Address Verification Form"
	mapBand      = "Address shown on the map (Radius: 200 m)"
	evidenceBand = "Photographic Evidence"

	tileURLTemplate = "https://mt1.google.com/vt/lyrs=m&x={x}&y={y}&z={z}&scale=2"

	// The verdict radius is 200 m; the visual circles around each marker
	// are drawn wider so they stay legible at the default zoom.
	radiusMeters       = 200
	circleRadiusMeters = 500

	// Map center when the record carries no coordinates at all.
	defaultCenterLat = 20.5937
	defaultCenterLng = 78.9629

	notCaptured      = "Not captured"
	defaultOwnership = "Own"
	defaultComment   = "Verified via GPS and Photo Evidence"
)

// Row is one label/value pair of the info grid. Status rows are rendered in
// the verdict color.
type Row struct {
	Label  string `json:"label"`
	Value  string `json:"value"`
	Status bool   `json:"status,omitempty"`
}

// ComparisonRow is one row of the claimed-vs-captured coordinates table.
type ComparisonRow struct {
	Description     string `json:"description"`
	Source          string `json:"source"`
	Distance        string `json:"distance"`
	ResolutionLogic string `json:"resolution_logic"`
	Legend          string `json:"legend"` // "red" claimed, "green" captured.
}

// Marker is one point on the report map.
type Marker struct {
	Label        string  `json:"label"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Color        string  `json:"color"`
	RadiusMeters int     `json:"radius_meters"`
}

// MapData is everything a client needs to draw the report map.
type MapData struct {
	TileURL      string   `json:"tile_url"`
	CenterLat    float64  `json:"center_lat"`
	CenterLng    float64  `json:"center_lng"`
	RadiusMeters int      `json:"radius_meters"`
	Markers      []Marker `json:"markers"`
	Polyline     bool     `json:"polyline"` // Dashed line between the two markers.
}

// EvidenceBlock is one photographic evidence cell. When the photo carried no
// geotag, Timestamp and Location are explicit "Not captured" markers rather
// than fabricated values.
type EvidenceBlock struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Image     string `json:"image,omitempty"`
	Timestamp string `json:"timestamp"`
	Location  string `json:"location"`
	Captured  bool   `json:"captured"`
}

// View is the complete report projection.
type View struct {
	Title    string `json:"title"`
	ID       string `json:"id"`
	RefID    string `json:"ref_id"`
	Filename string `json:"filename"`

	LeftRows  []Row `json:"left_rows"`
	RightRows []Row `json:"right_rows"`

	MapBand    string          `json:"map_band"`
	Comparison []ComparisonRow `json:"comparison"`
	Map        MapData         `json:"map"`

	ClaimedPoint  string  `json:"claimed_point"`
	CapturedPoint string  `json:"captured_point"`
	DistanceKm    float64 `json:"distance_km"`

	EvidenceBand string          `json:"evidence_band"`
	Evidence     []EvidenceBlock `json:"evidence"`
}

// Compose builds the report view for a record. Pure projection: no I/O, no
// mutation of the record.
func Compose(record *model.VerificationRecord) View {
	view := View{
		Title:        headerTitle,
		ID:           record.ID,
		RefID:        record.RefID,
		Filename:     filename(record),
		MapBand:      mapBand,
		EvidenceBand: evidenceBand,
	}

	view.LeftRows = []Row{
		{Label: "Instruction ID", Value: orDash(record.InstructionID)},
		{Label: "Name", Value: orDash(record.Name)},
		{Label: "Address", Value: orDash(record.Address)},
		{Label: "Type of Address", Value: orDash(string(record.TypeOfAddress))},
		{Label: "Mobile Number", Value: orDash(record.MobileNumber)},
		{Label: "Period of Stay", Value: orDash(record.PeriodOfStay)},
	}

	view.RightRows = []Row{
		{Label: "Ref ID", Value: orDash(record.RefID)},
		{Label: "Verification Date", Value: orDash(record.VerificationDate)},
		{Label: "Ownership Status", Value: orDefault(record.OwnershipStatus, defaultOwnership)},
		{Label: "Comment", Value: orDefault(record.Comment, defaultComment)},
		{Label: "Verification Status", Value: string(record.VerificationStatus), Status: true},
	}

	// The distance is computed exactly once and reused by every surface.
	if record.ClaimedLat != nil && record.ClaimedLng != nil &&
		record.CapturedLat != nil && record.CapturedLng != nil {
		view.DistanceKm = geo.RoundKm(geo.HaversineKm(
			*record.ClaimedLat, *record.ClaimedLng,
			*record.CapturedLat, *record.CapturedLng,
		))
	}

	view.ClaimedPoint = formatPoint(record.ClaimedLat, record.ClaimedLng)
	view.CapturedPoint = formatPoint(record.CapturedLat, record.CapturedLng)

	view.Comparison = []ComparisonRow{
		{
			Description:     record.Address,
			Source:          "Input Address",
			Distance:        "0 km",
			ResolutionLogic: "Google location api",
			Legend:          "red",
		},
		{
			Description:     view.CapturedPoint,
			Source:          "GPS",
			Distance:        fmt.Sprintf("%.2f km", view.DistanceKm),
			ResolutionLogic: "Location Resolution Logic",
			Legend:          "green",
		},
	}

	view.Map = composeMap(record)
	view.Evidence = composeEvidence(record)

	return view
}

func composeMap(record *model.VerificationRecord) MapData {
	data := MapData{
		TileURL:      tileURLTemplate,
		CenterLat:    defaultCenterLat,
		CenterLng:    defaultCenterLng,
		RadiusMeters: radiusMeters,
	}

	if record.ClaimedLat != nil && record.ClaimedLng != nil {
		data.Markers = append(data.Markers, Marker{
			Label:        "Claimed Location",
			Lat:          *record.ClaimedLat,
			Lng:          *record.ClaimedLng,
			Color:        "red",
			RadiusMeters: circleRadiusMeters,
		})
	}

	if record.CapturedLat != nil && record.CapturedLng != nil {
		data.Markers = append(data.Markers, Marker{
			Label:        "GPS Captured Point",
			Lat:          *record.CapturedLat,
			Lng:          *record.CapturedLng,
			Color:        "green",
			RadiusMeters: circleRadiusMeters,
		})
	}

	if len(data.Markers) > 0 {
		data.CenterLat = data.Markers[0].Lat
		data.CenterLng = data.Markers[0].Lng
	}

	data.Polyline = len(data.Markers) == 2

	return data
}

func composeEvidence(record *model.VerificationRecord) []EvidenceBlock {
	labels := map[string]string{
		model.SlotSelfie:           "Selfie",
		model.SlotLocationPicture:  "Location Picture (Door / Full House)",
		model.SlotIDProofRelative:  "ID Proof (Relative Verifying)",
		model.SlotIDProofCandidate: "ID Proof (The Candidate)",
		model.SlotLandmarkPicture:  "Landmark Picture",
	}

	blocks := make([]EvidenceBlock, 0, len(labels))

	for _, key := range model.SlotKeys() {
		image, meta, _ := record.Evidence(key)

		// The relative's block falls back to the candidate's ID image.
		if key == model.SlotIDProofRelative && image == "" {
			image = record.IDProofCandidate
		}

		block := EvidenceBlock{
			Key:       key,
			Label:     labels[key],
			Image:     image,
			Timestamp: notCaptured,
			Location:  notCaptured,
		}

		if meta != nil {
			block.Timestamp = meta.Timestamp
			block.Location = meta.Location
			block.Captured = true
		}

		blocks = append(blocks, block)
	}

	return blocks
}

func filename(record *model.VerificationRecord) string {
	if record.RefID != "" {
		return "Verification-" + record.RefID + ".pdf"
	}

	return "Verification-" + record.ID + ".pdf"
}

func formatPoint(lat, lng *float64) string {
	if lat == nil || lng == nil {
		return notCaptured
	}

	return geo.FormatLatLng(*lat, *lng)
}

func orDash(value string) string {
	return orDefault(value, "-")
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
