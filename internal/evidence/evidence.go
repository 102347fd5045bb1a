// Package evidence implements the capture side of the verification workflow:
// compressing applicant photos into embeddable data URIs, geotagging them at
// capture time, and tracking in-flight uploads so submission can be gated.
package evidence

import (
	"bytes"
	"context"
	"encoding/base64"
	"time"

	"github.com/disintegration/imaging"
	"github.com/veriaddress/veriaddress-server/internal/errors"
	"github.com/veriaddress/veriaddress-server/internal/geo"
	"github.com/veriaddress/veriaddress-server/internal/model"
)

const (
	// DefaultMaxWidth bounds the longest image edge after compression.
	DefaultMaxWidth = 800
	// DefaultQuality is the JPEG re-encode quality.
	DefaultQuality = 60

	dataURIPrefix = "data:image/jpeg;base64,"

	// metaTimestampLayout matches the EXIF-style timestamps in photo geotags.
	metaTimestampLayout = "2006:01:02 15:04:05"
)

// Compress decodes a raw image, downscales it so its width does not exceed
// maxWidth (never upscaling), re-encodes it as JPEG at the given quality and
// returns a self-contained data URI.
func Compress(raw []byte, maxWidth, quality int) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return "", errors.WrapImageDecode(err)
	}

	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return "", err
	}

	return dataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDataURI returns the raw bytes of a data URI produced by Compress.
func DecodeDataURI(uri string) ([]byte, error) {
	idx := bytes.IndexByte([]byte(uri), ',')
	if idx < 0 {
		return nil, errors.ErrImageDecode
	}

	raw, err := base64.StdEncoding.DecodeString(uri[idx+1:])
	if err != nil {
		return nil, errors.WrapImageDecode(err)
	}

	return raw, nil
}

// Position is a device-reported coordinate pair.
type Position struct {
	Lat float64
	Lng float64
}

// PositionSource yields the device's current position. Implementations should
// honor context cancellation; the geotagger applies a bounded wait.
type PositionSource interface {
	Position(ctx context.Context) (Position, error)
}

// StaticPosition is a PositionSource backed by a position the client already
// resolved and sent along with the upload.
type StaticPosition Position

func (p StaticPosition) Position(context.Context) (Position, error) {
	return Position(p), nil
}

// noPosition reports that geolocation permission was not granted.
type noPosition struct{}

func (noPosition) Position(context.Context) (Position, error) {
	return Position{}, errors.ErrGeolocationUnavailable
}

// NoPosition is the PositionSource for uploads without location access.
func NoPosition() PositionSource {
	return noPosition{}
}

// Geotag reads the current position with a bounded wait and returns the photo
// metadata for it. A missing or late position is not an error: geotagging is
// optional per evidence item, so the result is simply nil.
func Geotag(ctx context.Context, source PositionSource, wait time.Duration) *model.PhotoMetadata {
	if source == nil {
		return nil
	}

	if wait > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	position, err := source.Position(ctx)
	if err != nil {
		return nil
	}

	return &model.PhotoMetadata{
		Timestamp: time.Now().UTC().Format(metaTimestampLayout),
		Location:  geo.FormatLatLng(position.Lat, position.Lng),
	}
}

// Slot describes one evidence upload widget. Five near-identical widgets in
// the client map to one parameterized definition here.
type Slot struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	CaptureHint string `json:"capture_hint"` // "user" front camera, "environment" rear.
}

// Slots returns the evidence slot definitions in display order.
func Slots() []Slot {
	return []Slot{
		{Key: model.SlotSelfie, Label: "Selfie", CaptureHint: "user"},
		{Key: model.SlotLocationPicture, Label: "Location Picture (Door/House)", CaptureHint: "environment"},
		{Key: model.SlotIDProofRelative, Label: "ID Proof (Relative Verifying)", CaptureHint: "environment"},
		{Key: model.SlotIDProofCandidate, Label: "ID Proof (The Candidate)", CaptureHint: "environment"},
		{Key: model.SlotLandmarkPicture, Label: "Landmark Picture", CaptureHint: "environment"},
	}
}

// SlotByKey returns the slot definition for a key.
func SlotByKey(key string) (Slot, bool) {
	for _, slot := range Slots() {
		if slot.Key == key {
			return slot, true
		}
	}

	return Slot{}, false
}
