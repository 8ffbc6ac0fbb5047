// Package media turns uploaded image bytes into JPEG files on disk.
//
// The rest of the application only ever sees the returned reference, a
// slash-separated path starting with URLPrefix ("media/avatars/7.jpg").
// It is what gets stored in the database and what the /media/ file server
// resolves, so it does not change when the media directory moves.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/sakif/envir-social/internal/apperror"
)

const (
	// AvatarSize bounds both sides of a stored avatar.
	AvatarSize = 100
	// PhotoQuality is the JPEG quality used for report photos.
	PhotoQuality = 90
	// AvatarQuality is the JPEG quality used for avatars.
	AvatarQuality = 75

	// URLPrefix starts every returned reference.
	URLPrefix = "media"

	avatarsDir = "avatars"
	reportsDir = "reports"
)

// Processor stores processed images and returns a reference to them.
type Processor interface {
	SaveAvatar(ctx context.Context, data []byte, userID int64) (string, error)
	SaveReportPhoto(ctx context.Context, data []byte, userID int64) (string, error)
}

// Store is the filesystem Processor. Files are written below Root.
type Store struct {
	Root   string
	logger *zap.Logger
}

var _ Processor = (*Store)(nil)

// NewStore returns a Store rooted at dir. Sub-directories are created on
// first write.
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Root: dir, logger: logger}
}

// SaveAvatar shrinks the image to fit AvatarSize×AvatarSize (never
// enlarging it) and stores it as avatars/<userID>.jpg, replacing any
// previous avatar of that user.
func (s *Store) SaveAvatar(ctx context.Context, data []byte, userID int64) (string, error) {
	img, err := decode(ctx, data, "avatar")
	if err != nil {
		return "", err
	}
	thumb := imaging.Fit(img, AvatarSize, AvatarSize, imaging.Lanczos)
	return s.write(avatarsDir, fmt.Sprintf("%d.jpg", userID), thumb, AvatarQuality)
}

// SaveReportPhoto re-encodes the image as JPEG at PhotoQuality and stores
// it as reports/<userID>_<xid>.jpg. The xid keeps two photos uploaded in
// the same second from overwriting each other.
func (s *Store) SaveReportPhoto(ctx context.Context, data []byte, userID int64) (string, error) {
	img, err := decode(ctx, data, "photo")
	if err != nil {
		return "", err
	}
	return s.write(reportsDir, fmt.Sprintf("%d_%s.jpg", userID, xid.New().String()), img, PhotoQuality)
}

func decode(ctx context.Context, data []byte, field string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperror.ValidationFailed(field, field+" is empty")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperror.ValidationFailed(field, field+" is not a supported image")
	}
	return flatten(img), nil
}

// flatten paints the image over white so transparent areas don't turn
// black once the alpha channel is dropped by JPEG.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// write encodes img into a temp file next to the target and renames it into
// place, so a reader never sees a half-written JPEG.
func (s *Store) write(sub, name string, img image.Image, quality int) (string, error) {
	dir := filepath.Join(s.Root, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperror.Storage("creating media directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", apperror.Storage("creating temp image", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		tmp.Close()
		return "", apperror.Storage("encoding image", err)
	}
	if err := tmp.Close(); err != nil {
		return "", apperror.Storage("writing image", err)
	}

	dest := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", apperror.Storage("storing image", err)
	}

	s.logger.Debug("image stored", zap.String("path", dest))
	return path.Join(URLPrefix, sub, name), nil
}

// Path maps a reference returned by SaveAvatar or SaveReportPhoto back to
// its file below Root.
func (s *Store) Path(ref string) string {
	rel := strings.TrimPrefix(path.Clean(ref), URLPrefix+"/")
	return filepath.Join(s.Root, filepath.FromSlash(rel))
}
