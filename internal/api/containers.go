package api

import (
	"net/http"

	"github.com/blobgate/blobgate/internal/audit"
	"github.com/blobgate/blobgate/internal/container"
	"github.com/blobgate/blobgate/internal/storage"
)

func (h *Handler) handleListContainers(w http.ResponseWriter, r *http.Request) {
	svc, err := h.service(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	containers, err := svc.Engine.Containers().ListContainers(r.Context(), queryBool(r, "include_properties"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResourceResponse{Resource: containers})
}

func (h *Handler) handleCreateContainers(w http.ResponseWriter, r *http.Request) {
	svc, err := h.service(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	requests, err := decodeResource[container.CreateRequest](data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(requests) == 0 {
		writeError(w, r, storage.BadRequest("No containers provided"))
		return
	}

	results := svc.Engine.Containers().CreateContainers(r.Context(), requests, queryBool(r, "check_exist"))
	for _, res := range results {
		h.recordAudit(r, auditRecord{
			svc:          svc,
			container:    res.Name,
			eventType:    audit.EventTypeContainerCreated,
			resourceType: audit.ResourceTypeContainer,
			action:       audit.ActionCreate,
			err:          itemErr(res.Error),
		})
	}
	writeJSON(w, http.StatusOK, ResourceResponse{Resource: results})
}

func (h *Handler) handleDeleteContainers(w http.ResponseWriter, r *http.Request) {
	svc, err := h.service(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	names := queryList(r, "names")
	if len(names) == 0 {
		data, err := h.readBody(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		requests, err := decodeResource[container.CreateRequest](data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, req := range requests {
			names = append(names, req.Name)
		}
	}
	if len(names) == 0 {
		writeError(w, r, storage.BadRequest("No containers provided"))
		return
	}

	results := svc.Engine.Containers().DeleteContainers(r.Context(), names, queryBool(r, "force"))
	for _, res := range results {
		h.recordAudit(r, auditRecord{
			svc:          svc,
			container:    res.Name,
			eventType:    audit.EventTypeContainerDeleted,
			resourceType: audit.ResourceTypeContainer,
			action:       audit.ActionDelete,
			err:          itemErr(res.Error),
		})
	}
	writeJSON(w, http.StatusOK, ResourceResponse{Resource: results})
}

func (h *Handler) handleUpdateContainer(w http.ResponseWriter, r *http.Request) {
	svc, name, _, err := h.target(r)
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

	err = svc.Engine.Containers().UpdateContainerProperties(r.Context(), name, stringProperties(props))
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    name,
		eventType:    audit.EventTypeContainerUpdated,
		resourceType: audit.ResourceTypeContainer,
		action:       audit.ActionUpdate,
		err:          err,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := svc.Engine.Containers().GetContainer(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteContainer deletes the container itself, or the entries listed
// in the body when there is one
func (h *Handler) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	svc, name, _, err := h.target(r)
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
		h.deleteEntries(w, r, svc, name, "", data)
		return
	}

	err = svc.Engine.Containers().DeleteContainer(r.Context(), name, queryBool(r, "force"))
	h.recordAudit(r, auditRecord{
		svc:          svc,
		container:    name,
		eventType:    audit.EventTypeContainerDeleted,
		resourceType: audit.ResourceTypeContainer,
		action:       audit.ActionDelete,
		err:          err,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, container.Result{Name: name, Path: name + "/"})
}

// itemErr turns a batch error entry back into an error for auditing
func itemErr(e *storage.ItemError) error {
	if e == nil {
		return nil
	}
	switch e.Code {
	case http.StatusBadRequest:
		return storage.BadRequest("%s", e.Message)
	case http.StatusNotFound:
		return storage.NotFound("%s", e.Message)
	default:
		return storage.ServiceError(nil, "%s", e.Message)
	}
}
