package configsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"provision/internal/configsvc/varschema"
	"provision/internal/docstore"
	"provision/internal/logs"
	"provision/internal/models"
	"provision/internal/registry"
	"provision/internal/repo"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// TemplateAdmin — операции управления коллекцией шаблонов.
type TemplateAdmin interface {
	Get(ctx context.Context, id string) (*models.TemplateDocument, error)
	List(ctx context.Context, f docstore.ListFilter) ([]models.TemplateDocument, error)
	Insert(ctx context.Context, doc *models.TemplateDocument) error
	Replace(ctx context.Context, doc *models.TemplateDocument) error
	Delete(ctx context.Context, id string) error
}

type HTTP struct {
	profiles  *repo.ProfileStore
	devices   *repo.DeviceStore
	lookup    *registry.Lookup
	templates TemplateAdmin // nil — хранилище шаблонов не настроено
	resolver  *Resolver
	renderer  *Renderer
	log       *logrus.Entry
}

func NewHTTP(profiles *repo.ProfileStore, devices *repo.DeviceStore, templates TemplateAdmin, resolver *Resolver) *HTTP {
	return &HTTP{
		profiles:  profiles,
		devices:   devices,
		lookup:    registry.NewLookup(devices),
		templates: templates,
		resolver:  resolver,
		renderer:  NewRenderer(),
		log:       logs.Component("api"),
	}
}

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	// profiles
	api.HandleFunc("/profiles", h.listProfiles).Methods(http.MethodGet)
	api.HandleFunc("/profiles", h.createProfile).Methods(http.MethodPost)
	api.HandleFunc("/profiles/{id:[0-9]+}", h.getProfile).Methods(http.MethodGet)
	api.HandleFunc("/profiles/{id:[0-9]+}", h.updateProfile).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/profiles/{id:[0-9]+}", h.deleteProfile).Methods(http.MethodDelete)

	// devices (lookup — до {uuid})
	api.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices", h.createDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/lookup/{identifier}", h.lookupDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{uuid}/checkins", h.listCheckins).Methods(http.MethodGet)
	api.HandleFunc("/devices/{uuid}", h.getDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{uuid}", h.updateDevice).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/devices/{uuid}", h.deleteDevice).Methods(http.MethodDelete)

	// templates (resolve — до {id})
	api.HandleFunc("/templates", h.listTemplates).Methods(http.MethodGet)
	api.HandleFunc("/templates", h.createTemplate).Methods(http.MethodPost)
	api.HandleFunc("/templates/resolve", h.resolveTemplate).Methods(http.MethodGet)
	api.HandleFunc("/templates/{id}", h.getTemplate).Methods(http.MethodGet)
	api.HandleFunc("/templates/{id}", h.updateTemplate).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/templates/{id}", h.deleteTemplate).Methods(http.MethodDelete)
}

/* ——— helpers ——— */

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *HTTP) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, docstore.ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not found", err.Error(), nil)
	case errors.Is(err, repo.ErrDuplicate), errors.Is(err, docstore.ErrDuplicate):
		models.WriteProblem(w, http.StatusConflict, "Conflict", err.Error(), nil)
	default:
		h.log.WithFields(logrus.Fields{
			"path":  r.URL.Path,
			"error": err,
		}).Error("request failed")
		models.WriteProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), nil)
	}
}

func validationFailed(w http.ResponseWriter, errs []varschema.FieldError) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
}

// decodeFields разбирает JSON-объект: скаляры → строки для varschema, остальное — как есть.
func decodeFields(r *http.Request) (map[string]string, map[string]any, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	raw := map[string]any{}
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("invalid json: %w", err)
	}
	fields := map[string]string{}
	for k, v := range raw {
		switch x := v.(type) {
		case string:
			fields[k] = x
		case json.Number:
			fields[k] = x.String()
		case nil:
			fields[k] = ""
		}
	}
	return fields, raw, nil
}

func getter(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) { v, ok := m[k]; return v, ok }
}

/* ——— profiles ——— */

func applyProfile(p *models.DeviceProfile, norm map[string]string, raw map[string]any) {
	if v, ok := norm["name"]; ok {
		p.Name = v
	}
	if v, ok := norm["port_server"]; ok {
		p.PortServer, _ = strconv.Atoi(v)
	}
	if v, ok := norm["backup_port"]; ok {
		p.BackupPort, _ = strconv.Atoi(v)
	}
	if v, ok := norm["protocol_type"]; ok {
		p.ProtocolType = models.ProtocolType(v)
	}
	if v, ok := norm["register_ttl"]; ok {
		p.RegisterTTL, _ = strconv.Atoi(v)
	}
	if md, ok := raw["metadata"].(map[string]any); ok {
		p.Metadata = md
	}
}

func (h *HTTP) listProfiles(w http.ResponseWriter, r *http.Request) {
	ps, err := h.profiles.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *HTTP) createProfile(w http.ResponseWriter, r *http.Request) {
	fields, raw, err := decodeFields(r)
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", err.Error(), nil)
		return
	}
	norm, errs := varschema.Normalize(varschema.ProfileCatalog, fields)
	if len(errs) > 0 {
		validationFailed(w, errs)
		return
	}
	if err := varschema.ValidateAll(varschema.ProfileCatalog, getter(norm)); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation failed", err.Error(), nil)
		return
	}
	p := &models.DeviceProfile{}
	applyProfile(p, norm, raw)
	if err := h.profiles.Create(r.Context(), p); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			writeJSON(w, http.StatusConflict, p)
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func profileID(r *http.Request) uint {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return uint(id)
}

func (h *HTTP) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), profileID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *HTTP) updateProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), profileID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	fields, raw, err := decodeFields(r)
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", err.Error(), nil)
		return
	}
	norm, errs := varschema.Normalize(varschema.ProfileCatalog, fields)
	if len(errs) > 0 {
		validationFailed(w, errs)
		return
	}
	applyProfile(p, norm, raw)
	if err := p.Validate(); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation failed", err.Error(), nil)
		return
	}
	if err := h.profiles.Update(r.Context(), p); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *HTTP) deleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.profiles.Delete(r.Context(), profileID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* ——— devices ——— */

func (h *HTTP) applyDevice(ctx context.Context, d *models.DeviceConfig, norm map[string]string, raw map[string]any) error {
	if v, ok := norm["identifier"]; ok {
		d.Identifier = v
	}
	if v, ok := norm["mac_address"]; ok {
		d.MACAddress = v
	}
	if v, ok := norm["model"]; ok {
		d.DeviceModel = v
	}
	switch v := raw["profile_id"].(type) {
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			return fmt.Errorf("profile_id: %w", err)
		}
		if _, err := h.profiles.Get(ctx, uint(n)); err != nil {
			return fmt.Errorf("profile_id %d: %w", n, err)
		}
		id := uint(n)
		d.ProfileID = &id
		d.Profile = nil
	case nil:
		if _, present := raw["profile_id"]; present {
			d.ProfileID = nil
			d.Profile = nil
		}
	}
	return nil
}

func (h *HTTP) listDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repo.DeviceFilter{Search: q.Get("q")}
	if s := q.Get("profile_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			id := uint(n)
			f.ProfileID = &id
		}
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	ds, err := h.devices.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ds == nil {
		ds = []models.DeviceConfig{}
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *HTTP) createDevice(w http.ResponseWriter, r *http.Request) {
	fields, raw, err := decodeFields(r)
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", err.Error(), nil)
		return
	}
	norm, errs := varschema.Normalize(varschema.DeviceCatalog, fields)
	if len(errs) > 0 {
		validationFailed(w, errs)
		return
	}
	if err := varschema.ValidateAll(varschema.DeviceCatalog, getter(norm)); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation failed", err.Error(), nil)
		return
	}
	d := &models.DeviceConfig{}
	if err := h.applyDevice(r.Context(), d, norm, raw); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation failed", err.Error(), nil)
		return
	}
	if err := h.devices.Create(r.Context(), d); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			writeJSON(w, http.StatusConflict, d)
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *HTTP) getDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.devices.FindByUUID(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *HTTP) updateDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.devices.FindByUUID(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	fields, raw, err := decodeFields(r)
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", err.Error(), nil)
		return
	}
	norm, errs := varschema.Normalize(varschema.DeviceCatalog, fields)
	if len(errs) > 0 {
		validationFailed(w, errs)
		return
	}
	if err := h.applyDevice(r.Context(), d, norm, raw); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation failed", err.Error(), nil)
		return
	}
	merged := map[string]string{"identifier": d.Identifier, "mac_address": d.MACAddress}
	if err := varschema.ValidateAll(varschema.DeviceCatalog, getter(merged)); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation failed", err.Error(), nil)
		return
	}
	if err := h.devices.Update(r.Context(), d); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *HTTP) deleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.devices.Delete(r.Context(), mux.Vars(r)["uuid"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) lookupDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["identifier"]
	d, ok, err := h.lookup.Find(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		models.WriteProblem(w, http.StatusNotFound, "Not found", "device not found", map[string]string{"identifier": id})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *HTTP) listCheckins(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]
	if _, err := h.devices.FindByUUID(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cs, err := h.devices.Checkins(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cs == nil {
		cs = []models.DeviceCheckin{}
	}
	writeJSON(w, http.StatusOK, cs)
}

/* ——— templates ——— */

func (h *HTTP) templatesReady(w http.ResponseWriter) bool {
	if h.templates == nil {
		models.WriteProblem(w, http.StatusServiceUnavailable, "Unavailable", "template store is not configured", nil)
		return false
	}
	return true
}

type templateIn struct {
	ID        *string `json:"id"`
	Model     *string `json:"model"`
	Extension *string `json:"extension"`
	Template  *string `json:"template"`
}

func (in templateIn) apply(doc *models.TemplateDocument) {
	if in.Model != nil {
		doc.Model = strings.TrimSpace(*in.Model)
	}
	if in.Extension != nil {
		doc.Extension = docstore.NormalizeExtension(*in.Extension)
	}
	if in.Template != nil {
		doc.Template = *in.Template
	}
}

func (h *HTTP) listTemplates(w http.ResponseWriter, r *http.Request) {
	if !h.templatesReady(w) {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.ParseInt(q.Get("limit"), 10, 64)
	ts, err := h.templates.List(r.Context(), docstore.ListFilter{
		Model:     q.Get("model"),
		Extension: q.Get("extension"),
		Limit:     limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *HTTP) createTemplate(w http.ResponseWriter, r *http.Request) {
	if !h.templatesReady(w) {
		return
	}
	var in templateIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid json", nil)
		return
	}
	doc := &models.TemplateDocument{}
	if in.ID != nil {
		doc.ID = strings.TrimSpace(*in.ID)
	}
	in.apply(doc)
	if doc.Extension == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Validation failed", "extension required", nil)
		return
	}
	if err := h.renderer.Check(doc); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation failed", err.Error(), nil)
		return
	}
	if err := h.templates.Insert(r.Context(), doc); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *HTTP) getTemplate(w http.ResponseWriter, r *http.Request) {
	if !h.templatesReady(w) {
		return
	}
	doc, err := h.templates.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *HTTP) updateTemplate(w http.ResponseWriter, r *http.Request) {
	if !h.templatesReady(w) {
		return
	}
	doc, err := h.templates.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in templateIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid json", nil)
		return
	}
	in.apply(doc)
	if doc.Extension == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Validation failed", "extension required", nil)
		return
	}
	if err := h.renderer.Check(doc); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation failed", err.Error(), nil)
		return
	}
	if err := h.templates.Replace(r.Context(), doc); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *HTTP) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if !h.templatesReady(w) {
		return
	}
	if err := h.templates.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolveTemplate показывает, какой документ и на какой ступени выберет резолвер.
func (h *HTTP) resolveTemplate(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		models.WriteProblem(w, http.StatusServiceUnavailable, "Unavailable", "template store is not configured", nil)
		return
	}
	q := r.URL.Query()
	query := Query{Model: q.Get("model"), Extension: q.Get("extension"), Key: q.Get("key")}
	res, ok := h.resolver.Resolve(r.Context(), query)
	if !ok {
		models.WriteProblem(w, http.StatusNotFound, "Not found", "no template matches", map[string]string{
			"model": query.Model, "extension": query.Extension, "key": query.Key,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tier":     res.Tier,
		"template": res.Document,
	})
}
