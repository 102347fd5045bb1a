package evidence

import (
	"bytes"
	"context"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	verrors "github.com/veriaddress/veriaddress-server/internal/errors"
)

// rawImage encodes a solid-color PNG of the given size.
func rawImage(t *testing.T, width, height int) []byte {
	t.Helper()

	img := imaging.New(width, height, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))

	return buf.Bytes()
}

func TestCompressDownscalesWideImages(t *testing.T) {
	uri, err := Compress(rawImage(t, 1600, 900), DefaultMaxWidth, DefaultQuality)
	require.NoError(t, err)
	require.Contains(t, uri, "data:image/jpeg;base64,")

	raw, err := DecodeDataURI(uri)
	require.NoError(t, err)

	decoded, err := imaging.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 800, decoded.Bounds().Dx())
	require.Equal(t, 450, decoded.Bounds().Dy())
}

func TestCompressNeverUpscales(t *testing.T) {
	uri, err := Compress(rawImage(t, 400, 300), DefaultMaxWidth, DefaultQuality)
	require.NoError(t, err)

	raw, err := DecodeDataURI(uri)
	require.NoError(t, err)

	decoded, err := imaging.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 400, decoded.Bounds().Dx())
	require.Equal(t, 300, decoded.Bounds().Dy())
}

func TestCompressRejectsBrokenImages(t *testing.T) {
	_, err := Compress([]byte("not an image"), DefaultMaxWidth, DefaultQuality)
	require.ErrorIs(t, err, verrors.ErrImageDecode)
}

func TestDecodeDataURIRejectsGarbage(t *testing.T) {
	_, err := DecodeDataURI("no comma here")
	require.ErrorIs(t, err, verrors.ErrImageDecode)

	_, err = DecodeDataURI("data:image/jpeg;base64,!!!")
	require.ErrorIs(t, err, verrors.ErrImageDecode)
}

func TestGeotagFromStaticPosition(t *testing.T) {
	meta := Geotag(context.Background(), StaticPosition{Lat: 17.6983203, Lng: 83.162918}, time.Second)
	require.NotNil(t, meta)
	require.Equal(t, "17.6983203,83.1629180", meta.Location)
	require.Regexp(t, `^\d{4}:\d{2}:\d{2} \d{2}:\d{2}:\d{2}$`, meta.Timestamp)
}

func TestGeotagOptionalOnDenied(t *testing.T) {
	require.Nil(t, Geotag(context.Background(), NoPosition(), time.Second))
	require.Nil(t, Geotag(context.Background(), nil, time.Second))
}

// slowSource never resolves before the context expires.
type slowSource struct{}

func (slowSource) Position(ctx context.Context) (Position, error) {
	<-ctx.Done()

	return Position{}, ctx.Err()
}

func TestGeotagBoundedWait(t *testing.T) {
	start := time.Now()
	meta := Geotag(context.Background(), slowSource{}, 20*time.Millisecond)
	require.Nil(t, meta)
	require.Less(t, time.Since(start), time.Second)
}

func TestSlots(t *testing.T) {
	slots := Slots()
	require.Len(t, slots, 5)
	require.Equal(t, "selfie", slots[0].Key)
	require.Equal(t, "user", slots[0].CaptureHint)

	slot, ok := SlotByKey("landmark_picture")
	require.True(t, ok)
	require.Equal(t, "Landmark Picture", slot.Label)

	_, ok = SlotByKey("passport")
	require.False(t, ok)
}

func TestUploaderTracksInFlight(t *testing.T) {
	uploader := NewUploader(DefaultMaxWidth, DefaultQuality, time.Second)

	var mu sync.Mutex

	results := make(map[string]Result)
	done := func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		results[r.Slot] = r
	}

	raw := rawImage(t, 1000, 800)
	uploader.Attach(context.Background(), "selfie", raw, StaticPosition{Lat: 12, Lng: 77}, done)
	uploader.Attach(context.Background(), "landmark_picture", raw, NoPosition(), done)

	uploader.Drain()
	require.Equal(t, int64(0), uploader.InFlight())

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, results, 2)
	require.NoError(t, results["selfie"].Err)
	require.NotEmpty(t, results["selfie"].Image)
	require.NotNil(t, results["selfie"].Meta)
	require.Equal(t, "12.0000000,77.0000000", results["selfie"].Meta.Location)

	// Geotag denied: image still attaches, metadata stays absent.
	require.NoError(t, results["landmark_picture"].Err)
	require.NotEmpty(t, results["landmark_picture"].Image)
	require.Nil(t, results["landmark_picture"].Meta)
}

func TestUploaderSurfacesDecodeError(t *testing.T) {
	uploader := NewUploader(DefaultMaxWidth, DefaultQuality, 0)

	var (
		mu  sync.Mutex
		got Result
	)

	uploader.Attach(context.Background(), "selfie", []byte("junk"), nil, func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		got = r
	})

	uploader.Drain()

	mu.Lock()
	defer mu.Unlock()

	require.ErrorIs(t, got.Err, verrors.ErrImageDecode)
	require.Empty(t, got.Image)
}
