package api

import (
	"context"
	"encoding/base64"
	"errors"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/blobgate/blobgate/internal/audit"
	"github.com/blobgate/blobgate/internal/files"
	"github.com/blobgate/blobgate/internal/storage"
)

// FileResponse is a file's properties with optional base64 content
type FileResponse struct {
	*files.FileNode
	Content string `json:"content,omitempty"`
}

func (h *Handler) handleGetFile(w http.ResponseWriter, r *http.Request) {
	svc, containerName, path, err := h.target(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	withContent := queryBool(r, "content")
	if queryBool(r, "properties") || withContent {
		node, err := svc.Engine.GetFile(r.Context(), containerName, path, withContent)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp := FileResponse{FileNode: node}
		if withContent {
			resp.Content = base64.StdEncoding.EncodeToString(node.Content)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	err = svc.Engine.StreamFile(r.Context(), containerName, path, w, queryBool(r, "download"))
	if err != nil && !errors.Is(err, storage.ErrStreamInterrupted) {
		writeError(w, r, err)
	}
}

func (h *Handler) handlePostFile(w http.ResponseWriter, r *http.Request) {
	svc, containerName, path, err := h.target(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if path, err = files.NormalizeFilePath(path); err != nil {
		writeError(w, r, err)
		return
	}
	parent := files.ParentPath(path)
	extract := queryBool(r, "extract")

	switch {
	case r.URL.Query().Get("url") != "":
		local, _, err := h.fetchURL(r.Context(), r.URL.Query().Get("url"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer os.Remove(local)
		if extract {
			h.extractArchive(w, r, svc, containerName, parent, local)
			return
		}
		h.moveFile(w, r, svc, containerName, path, local)

	case isMultipart(r):
		parts, err := h.parseMultipart(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer r.MultipartForm.RemoveAll()
		if extract {
			err = parts[0].extract(r.Context(), svc, containerName, parent, queryBool(r, "clean"), r.URL.Query().Get("drop_path"))
			h.respondExtracted(w, r, svc, containerName, parent, err)
			return
		}
		err = parts[0].write(r.Context(), svc, containerName, path, queryBool(r, "check_exist"))
		h.respondWritten(w, r, svc, containerName, path, err)

	case extract:
		local, err := h.spoolBody(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer os.Remove(local)
		h.extractArchive(w, r, svc, containerName, parent, local)

	default:
		body := r.Body
		if h.opts.MaxUploadSize > 0 {
			body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadSize)
		}
		_, err := svc.Engine.WriteFile(r.Context(), containerName, path, body, r.ContentLength, bodyContentType(r), queryBool(r, "check_exist"))
		h.respondWritten(w, r, svc, containerName, path, limitError(err))
	}
}

func (h *Handler) respondWritten(w http.ResponseWriter, r *http.Request, svc *Service, containerName, path string, err error) {
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    containerName,
		path:         path,
		eventType:    audit.EventTypeFileWritten,
		resourceType: audit.ResourceTypeFile,
		action:       audit.ActionCreate,
		err:          err,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	node, err := svc.Engine.GetFile(r.Context(), containerName, path, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (h *Handler) respondExtracted(w http.ResponseWriter, r *http.Request, svc *Service, containerName, folder string, err error) {
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    containerName,
		path:         folder,
		eventType:    audit.EventTypeArchiveExtracted,
		resourceType: audit.ResourceTypeFolder,
		action:       audit.ActionExtract,
		err:          err,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	node, err := svc.Engine.GetFolder(r.Context(), containerName, folder, files.DefaultListOptions())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (h *Handler) handleUpdateFile(w http.ResponseWriter, r *http.Request) {
	svc, containerName, path, err := h.target(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	props, err := decodeProperties(data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = svc.Engine.UpdateFileProperties(r.Context(), containerName, path, stringProperties(props))
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    containerName,
		path:         path,
		eventType:    audit.EventTypeFileUpdated,
		resourceType: audit.ResourceTypeFile,
		action:       audit.ActionUpdate,
		err:          err,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	node, err := svc.Engine.GetFile(r.Context(), containerName, path, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *Handler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	svc, containerName, path, err := h.target(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = svc.Engine.DeleteFile(r.Context(), containerName, path)
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    containerName,
		path:         path,
		eventType:    audit.EventTypeFileDeleted,
		resourceType: audit.ResourceTypeFile,
		action:       audit.ActionDelete,
		err:          err,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files.Result{Name: files.BaseName(path), Path: path, Type: files.TypeFile})
}

// multipartFile is one uploaded file part
type multipartFile struct {
	header *multipart.FileHeader
}

func (p *multipartFile) write(ctx context.Context, svc *Service, containerName, path string, checkExist bool) error {
	f, err := p.header.Open()
	if err != nil {
		return storage.BadRequest("Failed to read upload '%s': %v", p.header.Filename, err)
	}
	defer f.Close()

	contentType := p.header.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		contentType = ""
	}
	_, err = svc.Engine.WriteFile(ctx, containerName, path, f, p.header.Size, contentType, checkExist)
	return err
}

func (p *multipartFile) extract(ctx context.Context, svc *Service, containerName, folder string, clean bool, dropPath string) error {
	f, err := p.header.Open()
	if err != nil {
		return storage.BadRequest("Failed to read upload '%s': %v", p.header.Filename, err)
	}
	defer f.Close()

	_, err = svc.Archive.ExtractReader(ctx, containerName, folder, f, p.header.Size, clean, dropPath)
	return err
}
