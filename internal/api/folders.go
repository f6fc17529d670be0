package api

import (
	"net/http"
	"os"
	"sort"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"

	"github.com/blobgate/blobgate/internal/audit"
	"github.com/blobgate/blobgate/internal/files"
	"github.com/blobgate/blobgate/internal/storage"
)

const multipartMemory = 32 << 20

func (h *Handler) handleGetFolder(w http.ResponseWriter, r *http.Request) {
	svc, containerName, path, err := h.target(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if queryBool(r, "zip") {
		h.writeZip(w, r, svc, containerName, path)
		return
	}

	opts := files.DefaultListOptions()
	if queryBool(r, "folders_only") {
		opts.IncludeFiles = false
	}
	if queryBool(r, "files_only") {
		opts.IncludeFolders = false
	}
	opts.FullTree = queryBool(r, "full_tree")
	opts.IncludeProperties = queryBool(r, "include_properties")

	node, err := svc.Engine.GetFolder(r.Context(), containerName, path, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// the root folder carries the container's properties
	if node.Path == "" && opts.IncludeProperties {
		if c, err := svc.Engine.Containers().GetContainer(r.Context(), containerName); err == nil && len(c.Properties) > 0 {
			node.Properties = make(map[string]interface{}, len(c.Properties))
			for k, v := range c.Properties {
				node.Properties[k] = v
			}
		}
	}
	writeJSON(w, http.StatusOK, node)
}

// writeZip streams a folder as a zip download. Failures after the headers
// are out can only be logged.
func (h *Handler) writeZip(w http.ResponseWriter, r *http.Request, svc *Service, containerName, path string) {
	exists, err := svc.Engine.FolderExists(r.Context(), containerName, path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !exists {
		if path == "" {
			writeError(w, r, storage.NotFound("Container '%s' does not exist", containerName))
		} else {
			writeError(w, r, storage.NotFound("Folder '%s' does not exist in container '%s'", path, containerName))
		}
		return
	}

	name := files.BaseName(path)
	if name == "" {
		name = containerName
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.zip"`)
	w.WriteHeader(http.StatusOK)

	logger := logrus.WithFields(logrus.Fields{
		"service":   svc.Name,
		"container": containerName,
		"path":      path,
	})
	zw := zip.NewWriter(w)
	if err := svc.Archive.WriteFolder(r.Context(), zw, containerName, path); err != nil {
		logger.WithError(err).Warn("Zip download interrupted")
	}
	if err := zw.Close(); err != nil {
		logger.WithError(err).Warn("Failed to finish zip download")
	}
}

func (h *Handler) handlePostFolder(w http.ResponseWriter, r *http.Request) {
	svc, containerName, path, err := h.target(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	folder, err := files.NormalizeFolderPath(path)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch {
	case r.URL.Query().Get("url") != "":
		h.folderFromURL(w, r, svc, containerName, folder)
	case isMultipart(r):
		h.folderUpload(w, r, svc, containerName, folder)
	case queryBool(r, "extract"):
		local, err := h.spoolBody(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer os.Remove(local)
		h.extractArchive(w, r, svc, containerName, folder, local)
	default:
		h.createEntries(w, r, svc, containerName, folder)
	}
}

func (h *Handler) createEntries(w http.ResponseWriter, r *http.Request, svc *Service, containerName, folder string) {
	data, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := decodeEntries(data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	checkExist := queryBool(r, "check_exist")

	// no items, or a bare properties object, creates the addressed folder itself
	if len(entries) == 0 || (len(entries) == 1 && entries[0].Name == "" && entries[0].Path == "") {
		var props map[string]interface{}
		if len(entries) == 1 {
			props = entries[0].Properties
		}
		h.createFolder(w, r, svc, containerName, folder, props, checkExist)
		return
	}

	results := svc.Engine.CreateEntries(r.Context(), containerName, folder, entries, checkExist)
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    containerName,
		path:         folder,
		eventType:    audit.EventTypeBatch,
		resourceType: audit.ResourceTypeFolder,
		action:       audit.ActionCreate,
		details:      batchDetails("create_entries", results),
	})
	writeJSON(w, http.StatusOK, ResourceResponse{Resource: results})
}

func (h *Handler) createFolder(w http.ResponseWriter, r *http.Request, svc *Service, containerName, folder string, props map[string]interface{}, checkExist bool) {
	if folder == "" {
		c, err := svc.Engine.Containers().CreateContainer(r.Context(), containerName, stringProperties(props), checkExist)
		h.recordAudit(r, auditRecord{
			svc:          svc,
			container:    containerName,
			eventType:    audit.EventTypeContainerCreated,
			resourceType: audit.ResourceTypeContainer,
			action:       audit.ActionCreate,
			err:          err,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
		return
	}

	node, err := svc.Engine.CreateFolder(r.Context(), containerName, folder, props, checkExist)
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    containerName,
		path:         folder,
		eventType:    audit.EventTypeFolderCreated,
		resourceType: audit.ResourceTypeFolder,
		action:       audit.ActionCreate,
		err:          err,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (h *Handler) folderFromURL(w http.ResponseWriter, r *http.Request, svc *Service, containerName, folder string) {
	local, name, err := h.fetchURL(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer os.Remove(local)

	if queryBool(r, "extract") {
		h.extractArchive(w, r, svc, containerName, folder, local)
		return
	}
	if name == "" {
		writeError(w, r, storage.BadRequest("Cannot determine a file name from URL '%s'", r.URL.Query().Get("url")))
		return
	}
	h.moveFile(w, r, svc, containerName, folder+name, local)
}

func (h *Handler) moveFile(w http.ResponseWriter, r *http.Request, svc *Service, containerName, path, local string) {
	node, err := svc.Engine.MoveFile(r.Context(), containerName, path, local, "", queryBool(r, "check_exist"))
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    containerName,
		path:         path,
		eventType:    audit.EventTypeFileWritten,
		resourceType: audit.ResourceTypeFile,
		action:       audit.ActionCreate,
		err:          err,
		details:      map[string]interface{}{"source": r.URL.Query().Get("url")},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (h *Handler) extractArchive(w http.ResponseWriter, r *http.Request, svc *Service, containerName, folder, local string) {
	clean := queryBool(r, "clean")
	drop := r.URL.Query().Get("drop_path")

	node, err := svc.Archive.ExtractFile(r.Context(), containerName, folder, local, clean, drop)
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    containerName,
		path:         folder,
		eventType:    audit.EventTypeArchiveExtracted,
		resourceType: audit.ResourceTypeFolder,
		action:       audit.ActionExtract,
		err:          err,
		details:      map[string]interface{}{"clean": clean, "drop_path": drop},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

// parseMultipart reads a multipart body and returns its file parts ordered by
// field name
func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) ([]*multipartFile, error) {
	if h.opts.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, requestError(err)
	}

	fields := make([]string, 0, len(r.MultipartForm.File))
	for field := range r.MultipartForm.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var parts []*multipartFile
	for _, field := range fields {
		for _, fh := range r.MultipartForm.File[field] {
			parts = append(parts, &multipartFile{header: fh})
		}
	}
	if len(parts) == 0 {
		return nil, storage.BadRequest("No files found in multipart body")
	}
	return parts, nil
}

func (h *Handler) folderUpload(w http.ResponseWriter, r *http.Request, svc *Service, containerName, folder string) {
	parts, err := h.parseMultipart(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	extract := queryBool(r, "extract")
	checkExist := queryBool(r, "check_exist")
	results := make([]files.Result, 0, len(parts))
	for _, part := range parts {
		result := files.Result{Name: part.header.Filename, Path: folder + part.header.Filename, Type: files.TypeFile}
		if extract {
			result.Path, result.Type = folder, files.TypeFolder
			err = part.extract(r.Context(), svc, containerName, folder, queryBool(r, "clean"), r.URL.Query().Get("drop_path"))
		} else {
			err = part.write(r.Context(), svc, containerName, folder+part.header.Filename, checkExist)
		}
		if err != nil {
			result.Error = storage.NewItemError(err)
		}
		results = append(results, result)
	}

	operation, action := "upload", audit.ActionCreate
	if extract {
		operation, action = "extract", audit.ActionExtract
	}
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    containerName,
		path:         folder,
		eventType:    audit.EventTypeBatch,
		resourceType: audit.ResourceTypeFolder,
		action:       action,
		details:      batchDetails(operation, results),
	})
	writeJSON(w, http.StatusOK, ResourceResponse{Resource: results})
}

func (h *Handler) handleUpdateFolder(w http.ResponseWriter, r *http.Request) {
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

	err = svc.Engine.UpdateFolderProperties(r.Context(), containerName, path, props)
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    containerName,
		path:         path,
		eventType:    audit.EventTypeFolderUpdated,
		resourceType: audit.ResourceTypeFolder,
		action:       audit.ActionUpdate,
		err:          err,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	node, err := svc.Engine.GetFolder(r.Context(), containerName, path, files.ListOptions{IncludeProperties: true})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleDeleteFolder deletes the folder, or the entries listed in the body
// when there is one
func (h *Handler) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
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
	if len(data) > 0 {
		h.deleteEntries(w, r, svc, containerName, path, data)
		return
	}

	err = svc.Engine.DeleteFolder(r.Context(), containerName, path, queryBool(r, "force"))
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    containerName,
		path:         path,
		eventType:    audit.EventTypeFolderDeleted,
		resourceType: audit.ResourceTypeFolder,
		action:       audit.ActionDelete,
		err:          err,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files.Result{Name: files.BaseName(path), Path: path, Type: files.TypeFolder})
}

func (h *Handler) deleteEntries(w http.ResponseWriter, r *http.Request, svc *Service, containerName, folder string, data []byte) {
	entries, err := decodeEntries(data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	results := svc.Engine.DeleteEntries(r.Context(), containerName, folder, entries, queryBool(r, "force"))
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    containerName,
		path:         folder,
		eventType:    audit.EventTypeBatch,
		resourceType: audit.ResourceTypeFolder,
		action:       audit.ActionDelete,
		details:      batchDetails("delete_entries", results),
	})
	writeJSON(w, http.StatusOK, ResourceResponse{Resource: results})
}
