package configsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"provision/internal/db"
	"provision/internal/docstore"
	"provision/internal/models"
	"provision/internal/repo"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// memTemplates — TemplateAdmin и TemplateSource поверх map.
type memTemplates struct {
	docs map[string]models.TemplateDocument
}

func (m *memTemplates) sorted() []models.TemplateDocument {
	out := make([]models.TemplateDocument, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memTemplates) FindOne(ctx context.Context, filter bson.M) (*models.TemplateDocument, error) {
	return (&memSource{docs: m.sorted()}).FindOne(ctx, filter)
}

func (m *memTemplates) Get(_ context.Context, id string) (*models.TemplateDocument, error) {
	d, ok := m.docs[id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return &d, nil
}

func (m *memTemplates) List(_ context.Context, f docstore.ListFilter) ([]models.TemplateDocument, error) {
	out := []models.TemplateDocument{}
	for _, d := range m.sorted() {
		if f.Extension != "" && d.Extension != docstore.NormalizeExtension(f.Extension) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *memTemplates) Insert(_ context.Context, doc *models.TemplateDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, ok := m.docs[doc.ID]; ok {
		return docstore.ErrDuplicate
	}
	m.docs[doc.ID] = *doc
	return nil
}

func (m *memTemplates) Replace(_ context.Context, doc *models.TemplateDocument) error {
	if _, ok := m.docs[doc.ID]; !ok {
		return docstore.ErrNotFound
	}
	m.docs[doc.ID] = *doc
	return nil
}

func (m *memTemplates) Delete(_ context.Context, id string) error {
	if _, ok := m.docs[id]; !ok {
		return docstore.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

type apiEnv struct {
	router    *mux.Router
	profiles  *repo.ProfileStore
	devices   *repo.DeviceStore
	templates *memTemplates
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	g, err := db.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	sqlDB, err := g.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(g))

	env := &apiEnv{
		router:    mux.NewRouter(),
		profiles:  repo.NewProfileStore(g),
		devices:   repo.NewDeviceStore(g),
		templates: &memTemplates{docs: map[string]models.TemplateDocument{}},
	}
	NewHTTP(env.profiles, env.devices, env.templates, NewResolver(env.templates)).RegisterRoutes(env.router)
	return env
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestAPI_ProfileCRUD(t *testing.T) {
	e := newAPI(t)

	rec := e.do(t, http.MethodPost, "/api/v1/profiles", map[string]any{
		"name": " office ", "port_server": 5070, "protocol_type": "tcp", "metadata": map[string]any{"sip_domain": "pbx"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p models.DeviceProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "office", p.Name)
	assert.Equal(t, 5070, p.PortServer)
	assert.Equal(t, models.ProtocolTCP, p.ProtocolType)
	assert.Equal(t, "pbx", p.Metadata["sip_domain"])

	rec = e.do(t, http.MethodPost, "/api/v1/profiles", map[string]any{"name": "office"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/profiles", map[string]any{"name": "x", "backup_port": 70000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "backup_port")

	rec = e.do(t, http.MethodPost, "/api/v1/profiles", map[string]any{"port_server": 5060})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := fmt.Sprintf("/api/v1/profiles/%d", p.ID)
	rec = e.do(t, http.MethodPatch, path, map[string]any{"register_ttl": 120})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := e.profiles.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 120, got.RegisterTTL)
	assert.Equal(t, 5070, got.PortServer)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/profiles", nil).Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, path, nil).Code)
}

func TestAPI_DeviceCRUDAndLookup(t *testing.T) {
	e := newAPI(t)
	prof := &models.DeviceProfile{Name: "office"}
	require.NoError(t, e.profiles.Create(context.Background(), prof))

	rec := e.do(t, http.MethodPost, "/api/v1/devices", map[string]any{"model": "H2P"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/devices", map[string]any{"mac_address": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/devices", map[string]any{"profile_id": 999, "identifier": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/devices", map[string]any{
		"identifier": "dev-1", "mac_address": "AA-BB-CC-11-22-33", "profile_id": prof.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var d models.DeviceConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.NotEmpty(t, d.UUID)
	assert.Equal(t, "aabbcc112233", d.MACAddress)

	rec = e.do(t, http.MethodPost, "/api/v1/devices", map[string]any{"identifier": "dev-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/devices", map[string]any{"identifier": "dev-2", "mac_address": "aa:bb:cc:11:22:33"})
	require.Equal(t, http.StatusConflict, rec.Code)
	var existing models.DeviceConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &existing))
	assert.Equal(t, d.UUID, existing.UUID)

	rec = e.do(t, http.MethodPost, "/api/v1/devices", map[string]any{"identifier": "dev-2", "mac_address": "001122334455"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var second models.DeviceConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	rec = e.do(t, http.MethodPatch, "/api/v1/devices/"+second.UUID, map[string]any{"mac_address": "AABBCC112233"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/api/v1/devices/"+second.UUID, nil).Code)

	for _, id := range []string{"dev-1", "aa:bb:cc:11:22:33", "aabbcc112233"} {
		rec = e.do(t, http.MethodGet, "/api/v1/devices/lookup/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code, id)
		var found models.DeviceConfig
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
		assert.Equal(t, d.UUID, found.UUID, id)
	}
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/devices/lookup/ghost", nil).Code)

	rec = e.do(t, http.MethodPatch, "/api/v1/devices/"+d.UUID, map[string]any{"model": "T46", "profile_id": nil})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := e.devices.FindByUUID(context.Background(), d.UUID)
	require.NoError(t, err)
	assert.Equal(t, "T46", got.DeviceModel)
	assert.Nil(t, got.ProfileID)

	rec = e.do(t, http.MethodPatch, "/api/v1/devices/"+d.UUID, map[string]any{"identifier": "", "mac_address": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, e.devices.RecordCheckin(context.Background(), models.DeviceCheckin{
		DeviceUUID: d.UUID, Outcome: models.CheckinServed, File: "dev-1.cfg",
	}))
	rec = e.do(t, http.MethodGet, "/api/v1/devices/"+d.UUID+"/checkins", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cs []models.DeviceCheckin
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cs))
	require.Len(t, cs, 1)
	assert.Equal(t, "dev-1.cfg", cs[0].File)

	rec = e.do(t, http.MethodGet, "/api/v1/devices?q=dev", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.DeviceConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/api/v1/devices/"+d.UUID, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/v1/devices/"+d.UUID, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/devices/"+d.UUID+"/checkins", nil).Code)
}

func TestAPI_TemplatesAndResolve(t *testing.T) {
	e := newAPI(t)

	rec := e.do(t, http.MethodPost, "/api/v1/templates", map[string]any{"model": "H2P", "extension": ".xml", "template": "<t>h2p</t>"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var h2p models.TemplateDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h2p))
	assert.Equal(t, "xml", h2p.Extension)
	assert.NotEmpty(t, h2p.ID)

	rec = e.do(t, http.MethodPost, "/api/v1/templates", map[string]any{"id": "generic-cfg", "extension": "cfg", "template": "generic"})
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, "/api/v1/templates", map[string]any{"id": "generic-cfg", "extension": "cfg"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/v1/templates", map[string]any{"template": "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/v1/templates", map[string]any{"extension": "cfg", "template": "{{ .x"}).Code)

	rec = e.do(t, http.MethodGet, "/api/v1/templates/resolve?model=h2p&extension=xml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Tier     string                  `json:"tier"`
		Template models.TemplateDocument `json:"template"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, TierModelExtension, res.Tier)
	assert.Equal(t, h2p.ID, res.Template.ID)

	rec = e.do(t, http.MethodGet, "/api/v1/templates/resolve?model=NoModel&extension=cfg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, TierExtension, res.Tier)
	assert.Equal(t, "generic-cfg", res.Template.ID)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/templates/resolve?extension=json", nil).Code)

	rec = e.do(t, http.MethodPut, "/api/v1/templates/generic-cfg", map[string]any{"template": "updated"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "updated", e.templates.docs["generic-cfg"].Template)

	rec = e.do(t, http.MethodGet, "/api/v1/templates?extension=cfg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []models.TemplateDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Len(t, docs, 1)

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/api/v1/templates/generic-cfg", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/templates/generic-cfg", nil).Code)
}

func TestAPI_TemplatesUnconfigured(t *testing.T) {
	e := newAPI(t)
	r := mux.NewRouter()
	NewHTTP(e.profiles, e.devices, nil, nil).RegisterRoutes(r)

	for _, path := range []string{"/api/v1/templates", "/api/v1/templates/resolve?extension=cfg"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}
