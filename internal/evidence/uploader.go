package evidence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veriaddress/veriaddress-server/internal/model"
)

// Result is the outcome of one asynchronous attachment.
type Result struct {
	Slot  string
	Image string
	Meta  *model.PhotoMetadata
	Err   error
}

// Uploader runs the capture+compress+geotag sequence for evidence slots.
// Each slot runs independently; the shared in-flight counter backs the
// submission gate. There is no bound on simultaneous uploads.
type Uploader struct {
	maxWidth    int
	quality     int
	geotagWait  time.Duration
	inFlight    atomic.Int64
	completions sync.WaitGroup
}

// NewUploader creates an uploader with the given compression settings.
func NewUploader(maxWidth, quality int, geotagWait time.Duration) *Uploader {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}

	if quality <= 0 {
		quality = DefaultQuality
	}

	return &Uploader{
		maxWidth:   maxWidth,
		quality:    quality,
		geotagWait: geotagWait,
	}
}

// InFlight returns the number of uploads still being processed.
func (u *Uploader) InFlight() int64 {
	return u.inFlight.Load()
}

// Attach processes one evidence upload asynchronously and delivers the result
// through done. The counter is incremented before the goroutine starts so a
// caller can never observe a submit window between Attach and processing.
func (u *Uploader) Attach(ctx context.Context, slot string, raw []byte, source PositionSource, done func(Result)) {
	u.inFlight.Add(1)
	u.completions.Add(1)

	go func() {
		defer u.inFlight.Add(-1)
		defer u.completions.Done()

		image, err := Compress(raw, u.maxWidth, u.quality)
		if err != nil {
			done(Result{Slot: slot, Err: err})

			return
		}

		done(Result{
			Slot:  slot,
			Image: image,
			Meta:  Geotag(ctx, source, u.geotagWait),
		})
	}()
}

// Drain blocks until every started upload has delivered its result.
// Used by tests and by graceful shutdown.
func (u *Uploader) Drain() {
	u.completions.Wait()
}
