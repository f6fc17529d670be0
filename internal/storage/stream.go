package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/sirupsen/logrus"
)

// ResponseSink receives streamed blobs. http.ResponseWriter satisfies it.
type ResponseSink interface {
	Header() http.Header
	WriteHeader(statusCode int)
	Write(p []byte) (int, error)
}

// Disposition controls the Content-Disposition header of a streamed blob
type Disposition struct {
	Attachment bool
	Filename   string
}

func (d Disposition) header(key string) string {
	name := d.Filename
	if name == "" {
		name = path.Base(key)
	}
	kind := "inline"
	if d.Attachment {
		kind = "attachment"
	}
	return mime.FormatMediaType(kind, map[string]string{"filename": name})
}

// StreamBlob writes the blob's headers then its bytes to sink.
// A missing blob is returned as a NotFound error before anything is written.
// Once headers are out, a copy failure is logged and ErrStreamInterrupted
// returned; the caller must not try to write another response.
func StreamBlob(ctx context.Context, s Store, container, key string, sink ResponseSink, disposition Disposition) error {
	rc, info, err := s.GetBlob(ctx, container, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = DetectContentType(key)
	}

	h := sink.Header()
	if !info.LastModified.IsZero() {
		h.Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.FormatInt(info.ContentLength, 10))
	h.Set("Content-Disposition", disposition.header(key))
	if info.ETag != "" {
		h.Set("ETag", fmt.Sprintf("%q", info.ETag))
	}
	sink.WriteHeader(http.StatusOK)

	written, err := io.Copy(sink, rc)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"container": container,
			"key":       key,
			"written":   written,
		}).Warn("Blob stream interrupted")
		return fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
	}

	return nil
}
