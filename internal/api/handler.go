package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/blobgate/blobgate/internal/archive"
	"github.com/blobgate/blobgate/internal/audit"
	"github.com/blobgate/blobgate/internal/files"
	"github.com/blobgate/blobgate/internal/metrics"
	"github.com/blobgate/blobgate/internal/middleware"
	"github.com/blobgate/blobgate/internal/storage"
)

// Service is one configured storage service exposed under /{service}
type Service struct {
	Name    string
	Type    string
	Engine  *files.Engine
	Archive *archive.Codec
}

// Options configures the REST handler
type Options struct {
	Audit         *audit.Manager
	System        *metrics.SystemMetricsTracker
	MaxUploadSize int64
	FetchTimeout  time.Duration
	TempDir       string
	Version       string
}

// Handler serves the REST surface over every configured service
type Handler struct {
	services map[string]*Service
	names    []string
	opts     Options
	client   *http.Client
	started  time.Time
}

// NewHandler creates a new API handler
func NewHandler(services []*Service, opts Options) *Handler {
	h := &Handler{
		services: make(map[string]*Service, len(services)),
		opts:     opts,
		client:   &http.Client{Timeout: opts.FetchTimeout},
		started:  time.Now(),
	}
	for _, svc := range services {
		h.services[svc.Name] = svc
		h.names = append(h.names, svc.Name)
	}
	sort.Strings(h.names)
	return h
}

// RegisterRoutes registers the system and service routes. System routes go
// first so that no service can shadow them.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/_system/health", h.handleHealth).Methods("GET")
	router.HandleFunc("/_system/audit", h.handleAuditLogs).Methods("GET")
	router.HandleFunc("/_system/audit/{id:[0-9]+}", h.handleAuditLog).Methods("GET")

	router.HandleFunc("/", h.handleListServices).Methods("GET")

	// Service level - register both "" and "/" to handle trailing slash
	for _, p := range []string{"/{service}", "/{service}/"} {
		router.HandleFunc(p, h.handleListContainers).Methods("GET")
		router.HandleFunc(p, h.handleCreateContainers).Methods("POST", "PUT")
		router.HandleFunc(p, h.handleDeleteContainers).Methods("DELETE")
	}

	// Container root
	for _, p := range []string{"/{service}/{container}", "/{service}/{container}/"} {
		router.HandleFunc(p, h.handleGetFolder).Methods("GET")
		router.HandleFunc(p, h.handlePostFolder).Methods("POST", "PUT")
		router.HandleFunc(p, h.handleUpdateContainer).Methods("PATCH")
		router.HandleFunc(p, h.handleDeleteContainer).Methods("DELETE")
	}

	// Folders end with '/', anything else is a file
	folderRoute := func(r *http.Request, _ *mux.RouteMatch) bool {
		return len(r.URL.Path) > 0 && r.URL.Path[len(r.URL.Path)-1] == '/'
	}
	item := "/{service}/{container}/{path:.+}"
	router.HandleFunc(item, h.handleGetFolder).Methods("GET").MatcherFunc(folderRoute)
	router.HandleFunc(item, h.handlePostFolder).Methods("POST", "PUT").MatcherFunc(folderRoute)
	router.HandleFunc(item, h.handleUpdateFolder).Methods("PATCH").MatcherFunc(folderRoute)
	router.HandleFunc(item, h.handleDeleteFolder).Methods("DELETE").MatcherFunc(folderRoute)

	router.HandleFunc(item, h.handleGetFile).Methods("GET", "HEAD")
	router.HandleFunc(item, h.handlePostFile).Methods("POST", "PUT")
	router.HandleFunc(item, h.handleUpdateFile).Methods("PATCH")
	router.HandleFunc(item, h.handleDeleteFile).Methods("DELETE")
}

// service resolves the {service} route variable
func (h *Handler) service(r *http.Request) (*Service, error) {
	name := mux.Vars(r)["service"]
	svc, ok := h.services[name]
	if !ok {
		return nil, storage.NotFound("Service '%s' does not exist", name)
	}
	return svc, nil
}

// target resolves the service, container and path of a request
func (h *Handler) target(r *http.Request) (*Service, string, string, error) {
	svc, err := h.service(r)
	if err != nil {
		return nil, "", "", err
	}
	vars := mux.Vars(r)
	return svc, vars["container"], vars["path"], nil
}

// ServiceInfo describes a configured service
type ServiceInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (h *Handler) serviceInfos() []ServiceInfo {
	infos := make([]ServiceInfo, 0, len(h.names))
	for _, name := range h.names {
		infos = append(infos, ServiceInfo{Name: name, Type: h.services[name].Type})
	}
	return infos
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ResourceResponse{Resource: h.serviceInfos()})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":   "healthy",
		"version":  h.opts.Version,
		"services": h.serviceInfos(),
		"uptime":   int64(time.Since(h.started).Seconds()),
	}
	if h.opts.System != nil {
		body["uptime"] = h.opts.System.GetUptime()
		body["requests"] = h.opts.System.GetRequestStats()
		if mem, err := h.opts.System.GetMemoryUsage(); err == nil {
			body["memory"] = mem
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if h.opts.Audit == nil {
		writeError(w, r, storage.NotFound("Audit logging is disabled"))
		return
	}

	q := r.URL.Query()
	filters := &audit.AuditLogFilters{
		Service:      q.Get("service"),
		Container:    q.Get("container"),
		EventType:    q.Get("event_type"),
		ResourceType: q.Get("resource_type"),
		Action:       q.Get("action"),
		Status:       q.Get("status"),
		StartDate:    queryInt64(r, "start_date"),
		EndDate:      queryInt64(r, "end_date"),
		Page:         queryInt(r, "page"),
		PageSize:     queryInt(r, "page_size"),
	}

	logs, total, err := h.opts.Audit.GetLogs(r.Context(), filters)
	if err != nil {
		writeError(w, r, storage.ServiceError(err, "Failed to read audit logs"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resource":  logs,
		"total":     total,
		"page":      filters.Page,
		"page_size": filters.PageSize,
	})
}

func (h *Handler) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if h.opts.Audit == nil {
		writeError(w, r, storage.NotFound("Audit logging is disabled"))
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	entry, err := h.opts.Audit.GetLogByID(r.Context(), id)
	if err != nil {
		writeError(w, r, storage.NotFound("Audit log %d does not exist", id))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// auditRecord describes a mutation for the audit trail
type auditRecord struct {
	svc          *Service
	container    string
	path         string
	eventType    string
	resourceType string
	action       string
	err          error
	details      map[string]interface{}
}

func (h *Handler) recordAudit(r *http.Request, rec auditRecord) {
	if h.opts.Audit == nil {
		return
	}

	status := http.StatusOK
	if rec.err != nil {
		status = storage.StatusCode(rec.err)
		if rec.details == nil {
			rec.details = map[string]interface{}{}
		}
		rec.details["error"] = rec.err.Error()
	}

	event := &audit.AuditEvent{
		Container:    rec.container,
		Path:         rec.path,
		EventType:    rec.eventType,
		ResourceType: rec.resourceType,
		Action:       rec.action,
		StatusCode:   status,
		RequestID:    middleware.GetRequestID(r.Context()),
		IPAddress:    middleware.IPKeyExtractor(r),
		UserAgent:    r.UserAgent(),
		Details:      rec.details,
	}
	if rec.svc != nil {
		event.Service = rec.svc.Name
	}

	if err := h.opts.Audit.LogEvent(r.Context(), event); err != nil {
		logrus.WithError(err).WithField("event_type", rec.eventType).Warn("Failed to record audit event")
	}
}

// batchDetails summarises batch results for the audit trail
func batchDetails(operation string, results []files.Result) map[string]interface{} {
	failures := 0
	for _, res := range results {
		if res.Error != nil {
			failures++
		}
	}
	return map[string]interface{}{
		"operation": operation,
		"items":     len(results),
		"failures":  failures,
	}
}
