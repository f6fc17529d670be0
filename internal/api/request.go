package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/blobgate/blobgate/internal/files"
	"github.com/blobgate/blobgate/internal/storage"
)

// Descriptor is the wire form of a folder or file in batch bodies
type Descriptor struct {
	Name            string                 `json:"name"`
	Path            string                 `json:"path"`
	Type            string                 `json:"type"`
	Content         string                 `json:"content"`
	IsBase64        bool                   `json:"is_base64"`
	ContentType     string                 `json:"content_type"`
	Properties      map[string]interface{} `json:"properties"`
	SourceContainer string                 `json:"source_container"`
	SourcePath      string                 `json:"source_path"`
}

func (d Descriptor) entry() (files.Entry, error) {
	content := []byte(d.Content)
	if d.IsBase64 {
		decoded, err := base64.StdEncoding.DecodeString(d.Content)
		if err != nil {
			return files.Entry{}, storage.BadRequest("Invalid base64 content for '%s'", d.Name+d.Path)
		}
		content = decoded
	}
	return files.Entry{
		Name:            d.Name,
		Path:            d.Path,
		Type:            d.Type,
		Content:         content,
		ContentType:     d.ContentType,
		Properties:      d.Properties,
		SourceContainer: d.SourceContainer,
		SourcePath:      d.SourcePath,
	}, nil
}

// readBody reads a JSON body, bounded by the upload limit
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if h.opts.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadSize)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, requestError(err)
	}
	return bytes.TrimSpace(data), nil
}

// decodeResource accepts {"resource": [...]}, a bare array or a single object.
// An empty body yields no items.
func decodeResource[T any](data []byte) ([]T, error) {
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, storage.BadRequest("Invalid JSON body: %v", err)
		}
		return items, nil
	}

	var wrapped struct {
		Resource []T `json:"resource"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, storage.BadRequest("Invalid JSON body: %v", err)
	}
	if wrapped.Resource != nil {
		return wrapped.Resource, nil
	}

	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, storage.BadRequest("Invalid JSON body: %v", err)
	}
	return []T{one}, nil
}

func decodeEntries(data []byte) ([]files.Entry, error) {
	descriptors, err := decodeResource[Descriptor](data)
	if err != nil {
		return nil, err
	}
	entries := make([]files.Entry, 0, len(descriptors))
	for _, d := range descriptors {
		e, err := d.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// propertiesBody is the PATCH body for containers, folders and files
type propertiesBody struct {
	Properties map[string]interface{} `json:"properties"`
}

func decodeProperties(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, storage.BadRequest("No properties provided")
	}
	var body propertiesBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, storage.BadRequest("Invalid JSON body: %v", err)
	}
	if body.Properties == nil {
		return map[string]interface{}{}, nil
	}
	return body.Properties, nil
}

// stringProperties flattens JSON values for backends that only store strings
func stringProperties(props map[string]interface{}) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		switch value := v.(type) {
		case string:
			out[k] = value
		case nil:
			out[k] = ""
		default:
			encoded, err := json.Marshal(value)
			if err != nil {
				out[k] = fmt.Sprint(value)
				continue
			}
			out[k] = string(encoded)
		}
	}
	return out
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

// bodyContentType returns the declared content type of a raw upload, or ""
// to let the engine detect it from the file name
func bodyContentType(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType == "application/x-www-form-urlencoded" {
		return ""
	}
	return ct
}

// spoolBody copies the request body to a temporary file. The caller removes it.
func (h *Handler) spoolBody(w http.ResponseWriter, r *http.Request) (string, error) {
	body := r.Body
	if h.opts.MaxUploadSize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadSize)
	}
	return h.spool(body)
}

func (h *Handler) spool(src io.Reader) (string, error) {
	f, err := os.CreateTemp(h.opts.TempDir, "blobgate-upload-*")
	if err != nil {
		return "", storage.ServiceError(err, "Failed to create temporary file")
	}
	name := f.Name()

	_, err = io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(name)
		return "", requestError(err)
	}
	return name, nil
}

// fetchURL downloads rawURL into a temporary file and returns its path and
// the file name taken from the URL
func (h *Handler) fetchURL(ctx context.Context, rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", storage.BadRequest("Invalid URL '%s'", rawURL)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", storage.BadRequest("Invalid URL '%s'", rawURL)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", "", storage.ServiceError(err, "Failed to fetch '%s'", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", storage.BadRequest("Failed to fetch '%s': remote returned %d", rawURL, resp.StatusCode)
	}

	var src io.Reader = resp.Body
	if h.opts.MaxUploadSize > 0 {
		if resp.ContentLength > h.opts.MaxUploadSize {
			return "", "", storage.BadRequest("Remote file exceeds the limit of %d bytes", h.opts.MaxUploadSize)
		}
		src = io.LimitReader(resp.Body, h.opts.MaxUploadSize+1)
	}

	local, err := h.spool(src)
	if err != nil {
		return "", "", err
	}
	if h.opts.MaxUploadSize > 0 {
		if stat, err := os.Stat(local); err == nil && stat.Size() > h.opts.MaxUploadSize {
			os.Remove(local)
			return "", "", storage.BadRequest("Remote file exceeds the limit of %d bytes", h.opts.MaxUploadSize)
		}
	}
	return local, name, nil
}
