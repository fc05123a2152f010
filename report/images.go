package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ariebrainware/incident-watch/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxImages     = 10
	DefaultMaxImageBytes = 5 << 20
	uploadConcurrency    = 4
	sniffLen             = 512
)

var allowedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

var allowedMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Limits bounds one submission's image set.
type Limits struct {
	MaxImages     int
	MaxImageBytes int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxImages <= 0 {
		l.MaxImages = DefaultMaxImages
	}
	if l.MaxImageBytes <= 0 {
		l.MaxImageBytes = DefaultMaxImageBytes
	}
	return l
}

// Image is one uploaded file, not yet stored.
type Image struct {
	Name        string
	Size        int64
	contentType string
	open        func() (io.ReadCloser, error)
}

// ContentType is the sniffed MIME type, set by SelectImages.
func (i Image) ContentType() string { return i.contentType }

// FromMultipart wraps a form file.
func FromMultipart(fh *multipart.FileHeader) Image {
	return Image{
		Name: fh.Filename,
		Size: fh.Size,
		open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

// FromBytes wraps an in-memory file.
func FromBytes(name string, data []byte) Image {
	return Image{
		Name: name,
		Size: int64(len(data)),
		open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

func (i Image) ext() string {
	ext := strings.ToLower(filepath.Ext(i.Name))
	if ext == ".jpeg" {
		return ".jpg"
	}
	return ext
}

func sniff(img Image) (string, error) {
	rc, err := img.open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}

// SelectImages truncates files to limits.MaxImages, reporting the names of the extras
// as dropped, then checks each kept file's extension, sniffed type and size.
// Nothing is read from dropped files.
func SelectImages(files []Image, limits Limits) (accepted []Image, dropped []string, err error) {
	limits = limits.withDefaults()
	if len(files) > limits.MaxImages {
		for _, f := range files[limits.MaxImages:] {
			dropped = append(dropped, f.Name)
		}
		files = files[:limits.MaxImages]
	}

	verr := &ValidationError{}
	for idx, f := range files {
		field := fmt.Sprintf("images[%d]", idx)
		if !allowedExt[strings.ToLower(filepath.Ext(f.Name))] {
			verr.add(field, "only JPG, PNG, GIF and WEBP images are supported")
			continue
		}
		if f.Size > limits.MaxImageBytes {
			verr.add(field, fmt.Sprintf("must be at most %d MB", limits.MaxImageBytes>>20))
			continue
		}
		if f.open == nil {
			verr.add(field, "is unreadable")
			continue
		}
		mime, serr := sniff(f)
		if serr != nil {
			verr.add(field, "is unreadable")
			continue
		}
		if !allowedMime[mime] {
			verr.add(field, "content is not a supported image")
			continue
		}
		f.contentType = mime
		accepted = append(accepted, f)
	}
	if err := verr.orNil(); err != nil {
		return nil, dropped, err
	}
	return accepted, dropped, nil
}

// ObjectKey is "{reportID}/{uuid}.{ext}".
func ObjectKey(reportID uint, img Image) string {
	return fmt.Sprintf("%d/%s%s", reportID, uuid.NewString(), img.ext())
}

// UploadImages stores images in parallel and returns their URLs in input order.
// On failure the URLs of the uploads that did finish are still returned, in order,
// together with the first error.
func UploadImages(ctx context.Context, store storage.Store, bucket storage.Bucket, reportID uint, images []Image) ([]string, error) {
	if len(images) == 0 {
		return []string{}, nil
	}
	urls := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for idx, img := range images {
		idx, img := idx, img
		g.Go(func() error {
			rc, err := img.open()
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", img.Name, err)
			}
			defer rc.Close()
			u, err := store.Put(gctx, storage.Object{
				Bucket:      bucket,
				Key:         ObjectKey(reportID, img),
				ContentType: img.contentType,
				Size:        img.Size,
				Body:        rc,
			})
			if err != nil {
				return err
			}
			urls[idx] = u
			return nil
		})
	}
	err := g.Wait()

	done := make([]string, 0, len(urls))
	for _, u := range urls {
		if u != "" {
			done = append(done, u)
		}
	}
	return done, err
}

// ReconcileImages returns existing without the removed URLs, in original order,
// followed by added in upload order.
func ReconcileImages(existing, removed, added []string) []string {
	drop := make(map[string]bool, len(removed))
	for _, u := range removed {
		drop[u] = true
	}
	out := make([]string, 0, len(existing)+len(added))
	for _, u := range existing {
		if !drop[u] {
			out = append(out, u)
		}
	}
	return append(out, added...)
}

// removedPresent keeps only the removal requests that name an existing image.
func removedPresent(existing, removed []string) []string {
	have := make(map[string]bool, len(existing))
	for _, u := range existing {
		have[u] = true
	}
	var out []string
	for _, u := range removed {
		if have[u] {
			out = append(out, u)
			delete(have, u)
		}
	}
	return out
}
