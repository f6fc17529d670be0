package api

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blobgate/blobgate/internal/files"
)

func multipartBody(t *testing.T, parts map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for name, content := range parts {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func zipBody(t *testing.T, entries map[string]string) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf
}

func TestMultipartUpload(t *testing.T) {
	router, _ := setupAPI(t, Options{})
	require.Equal(t, http.StatusCreated, do(t, router, "POST", "/files/c/", nil, "").Code)
	require.Equal(t, http.StatusCreated, do(t, router, "POST", "/files/c/up/", nil, "").Code)

	body, contentType := multipartBody(t, map[string]string{"one.html": "1", "two.html": "22"})
	rec := do(t, router, "POST", "/files/c/up/", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var batch batchResponse
	decode(t, rec, &batch)
	require.Len(t, batch.Resource, 2)
	var paths []string
	for _, res := range batch.Resource {
		assert.Nil(t, res.Error)
		paths = append(paths, res.Path)
	}
	sort.Strings(paths)
	assert.Equal(t, []string{"up/one.html", "up/two.html"}, paths)

	rec = do(t, router, "GET", "/files/c/up/two.html", nil, "")
	assert.Equal(t, "22", rec.Body.String())

	t.Run("single file route", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"ignored.html": "named by route"})
		rec := do(t, router, "PUT", "/files/c/up/renamed.html", body, contentType)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = do(t, router, "GET", "/files/c/up/renamed.html", nil, "")
		assert.Equal(t, "named by route", rec.Body.String())
	})
}

func TestZipDownloadAndExtract(t *testing.T) {
	router, _ := setupAPI(t, Options{})
	require.Equal(t, http.StatusCreated, do(t, router, "POST", "/files/c/", nil, "").Code)
	require.Equal(t, http.StatusOK, doJSON(t, router, "POST", "/files/c/", `[
		{"path":"site/","type":"folder"},
		{"path":"site/css/","type":"folder"},
		{"path":"site/index.html","content":"<h1>home</h1>"},
		{"path":"site/css/main.css","content":"body{}"}
	]`).Code)

	rec := do(t, router, "GET", "/files/c/site/?zip=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "site.zip")

	archive := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"css/", "css/main.css", "index.html"}, names)

	rec = do(t, router, "POST", "/files/c/mirror/?extract=true", bytes.NewReader(archive), "application/zip")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, "GET", "/files/c/mirror/css/main.css", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())

	t.Run("missing folder", func(t *testing.T) {
		rec := do(t, router, "GET", "/files/c/nothing/?zip=true", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("extract through a file route lands in the parent", func(t *testing.T) {
		body := zipBody(t, map[string]string{"pkg/readme.html": "read me"})
		rec := do(t, router, "PUT", "/files/c/site/bundle.zip?extract=true&drop_path=pkg", body, "application/zip")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = do(t, router, "GET", "/files/c/site/readme.html", nil, "")
		assert.Equal(t, "read me", rec.Body.String())
	})

	t.Run("not a zip", func(t *testing.T) {
		rec := do(t, router, "POST", "/files/c/mirror/?extract=true", strings.NewReader("plain"), "application/zip")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestURLUpload(t *testing.T) {
	bundle := zipBody(t, map[string]string{"a.html": "A"}).Bytes()
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/assets/logo.html":
			io.WriteString(w, "<svg/>")
		case "/assets/bundle.zip":
			w.Write(bundle)
		default:
			http.NotFound(w, r)
		}
	}))
	defer remote.Close()

	router, _ := setupAPI(t, Options{MaxUploadSize: 1 << 20})
	require.Equal(t, http.StatusCreated, do(t, router, "POST", "/files/c/", nil, "").Code)

	fetch := func(target, rawURL string) *httptest.ResponseRecorder {
		return do(t, router, "POST", target+"url="+url.QueryEscape(rawURL), nil, "")
	}

	rec := fetch("/files/c/?", remote.URL+"/assets/logo.html")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var node files.FileNode
	decode(t, rec, &node)
	assert.Equal(t, "logo.html", node.Path)

	rec = fetch("/files/c/copy.html?", remote.URL+"/assets/logo.html")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, router, "GET", "/files/c/copy.html", nil, "")
	assert.Equal(t, "<svg/>", rec.Body.String())

	rec = fetch("/files/c/unpacked/?extract=true&", remote.URL+"/assets/bundle.zip")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, router, "GET", "/files/c/unpacked/a.html", nil, "")
	assert.Equal(t, "A", rec.Body.String())

	tests := []struct {
		name   string
		rawURL string
	}{
		{"unsupported scheme", "ftp://example.com/file"},
		{"remote 404", remote.URL + "/missing.html"},
		{"no file name", remote.URL + "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := fetch("/files/c/?", tt.rawURL)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	t.Run("remote larger than the upload limit", func(t *testing.T) {
		small, _ := setupAPI(t, Options{MaxUploadSize: 3})
		require.Equal(t, http.StatusCreated, do(t, small, "POST", "/files/c/", nil, "").Code)
		rec := do(t, small, "POST", "/files/c/?url="+url.QueryEscape(remote.URL+"/assets/logo.html"), nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
