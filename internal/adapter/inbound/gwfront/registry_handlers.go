package gwfront

import (
	"encoding/json"
	"net/http"

	"github.com/mcpgw/gateway/internal/domain/registry"
)

// serviceRecordDTO is the wire shape of a ServiceRecord for
// POST /api/register and /api/edit/{path}: snake_case JSON tags
// decoupled from the domain type's Go field names, matching the DTO
// idiom used for audit records in internal/adapter/inbound/admin.
type serviceRecordDTO struct {
	Path                string              `json:"path"`
	ServerName          string              `json:"server_name"`
	ProxyPassURL        string              `json:"proxy_pass_url"`
	Description         string              `json:"description,omitempty"`
	Tags                []string            `json:"tags,omitempty"`
	License             string              `json:"license,omitempty"`
	IsPython            bool                `json:"is_python,omitempty"`
	AuthProvider        string              `json:"auth_provider,omitempty"`
	SupportedTransports []string            `json:"supported_transports,omitempty"`
	Headers             []headerDTO         `json:"headers,omitempty"`
	Enabled             bool                `json:"enabled"`
}

type headerDTO struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (d serviceRecordDTO) toRecord() *registry.ServiceRecord {
	transports := make([]registry.Transport, len(d.SupportedTransports))
	for i, t := range d.SupportedTransports {
		transports[i] = registry.Transport(t)
	}
	headers := make([]registry.Header, len(d.Headers))
	for i, h := range d.Headers {
		headers[i] = registry.Header{Name: h.Name, Value: h.Value}
	}
	return &registry.ServiceRecord{
		Path:                d.Path,
		ServerName:          d.ServerName,
		ProxyPassURL:        d.ProxyPassURL,
		Description:         d.Description,
		Tags:                d.Tags,
		License:             d.License,
		IsPython:            d.IsPython,
		AuthProvider:        registry.AuthProvider(d.AuthProvider),
		SupportedTransports: transports,
		Headers:             headers,
		Enabled:             d.Enabled,
	}
}

func toServiceRecordDTO(r registry.ServiceRecord) serviceRecordDTO {
	transports := make([]string, len(r.SupportedTransports))
	for i, t := range r.SupportedTransports {
		transports[i] = string(t)
	}
	headers := make([]headerDTO, len(r.Headers))
	for i, h := range r.Headers {
		headers[i] = headerDTO{Name: h.Name, Value: h.Value}
	}
	return serviceRecordDTO{
		Path:                r.Path,
		ServerName:          r.ServerName,
		ProxyPassURL:        r.ProxyPassURL,
		Description:         r.Description,
		Tags:                r.Tags,
		License:             r.License,
		IsPython:            r.IsPython,
		AuthProvider:        string(r.AuthProvider),
		SupportedTransports: transports,
		Headers:             headers,
		Enabled:             r.Enabled,
	}
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	records, err := h.registry.List(r.Context())
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	dtos := make([]serviceRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toServiceRecordDTO(rec)
	}
	respondJSON(w, http.StatusOK, dtos)
}

func (h *Handler) handleServerDetails(w http.ResponseWriter, r *http.Request) {
	path := "/" + r.PathValue("path")
	rec, err := h.registry.Get(r.Context(), path)
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, toServiceRecordDTO(*rec))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var dto serviceRecordDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := h.registry.Register(r.Context(), dto.toRecord())
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, toServiceRecordDTO(*rec))
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	path := "/" + r.PathValue("path")
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := h.registry.SetEnabled(r.Context(), path, req.Enabled)
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, toServiceRecordDTO(*rec))
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	path := "/" + r.PathValue("path")
	var dto serviceRecordDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := h.registry.Update(r.Context(), path, dto.toRecord())
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, toServiceRecordDTO(*rec))
}

type removeRequest struct {
	Path string `json:"path"`
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.registry.Deregister(r.Context(), req.Path); err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
