package images

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"

	apperrors "teedops/errors"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Output limits for stored photos.
const (
	MaxDimension = 1200
	JPEGQuality  = 85
)

// Processed is a normalized photo ready for upload.
type Processed struct {
	Data   []byte
	Width  int
	Height int
	// Hash is the hex sha256 of Data.
	Hash string
}

// Process decodes an image, fits it inside MaxDimension square and re-encodes it as JPEG.
func Process(data []byte) (*Processed, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidFormat, "failed to decode image", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidFormat, "image is empty", nil)
	}

	var fitted image.Image = imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, apperrors.NewInternalError(apperrors.ErrCodeProcessingError, "failed to encode jpeg", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return &Processed{
		Data:   buf.Bytes(),
		Width:  fitted.Bounds().Dx(),
		Height: fitted.Bounds().Dy(),
		Hash:   hex.EncodeToString(sum[:]),
	}, nil
}
