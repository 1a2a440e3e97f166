package provctrl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"provision/internal/configsvc"
	"provision/internal/db"
	"provision/internal/models"
	"provision/internal/registry"
	"provision/internal/repo"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// docs — TemplateSource для трёх форм фильтра резолвера.
type docs []models.TemplateDocument

func (s docs) FindOne(_ context.Context, filter bson.M) (*models.TemplateDocument, error) {
next:
	for i := range s {
		for k, v := range filter {
			field := map[string]string{"_id": s[i].ID, "model": s[i].Model, "extension": s[i].Extension}[k]
			switch want := v.(type) {
			case string:
				if field != want {
					continue next
				}
			case primitive.Regex:
				if !regexp.MustCompile("(?" + want.Options + ")" + want.Pattern).MatchString(field) {
					continue next
				}
			}
		}
		d := s[i]
		return &d, nil
	}
	return nil, nil
}

type failingSource struct{}

func (failingSource) FindOne(context.Context, bson.M) (*models.TemplateDocument, error) {
	return nil, errors.New("no reachable servers")
}

type env struct {
	router  *mux.Router
	devices *repo.DeviceStore
	device  *models.DeviceConfig
}

func newEnv(t *testing.T, src configsvc.TemplateSource) *env {
	t.Helper()
	g, err := db.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	sqlDB, err := g.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(g))

	ctx := context.Background()
	profiles, devices := repo.NewProfileStore(g), repo.NewDeviceStore(g)
	prof := &models.DeviceProfile{Name: "office", PortServer: 5062}
	require.NoError(t, profiles.Create(ctx, prof))
	dev := &models.DeviceConfig{Identifier: "dev-1", MACAddress: "3c:28:a6:03:57:a0", ProfileID: &prof.ID}
	require.NoError(t, devices.Create(ctx, dev))

	b := configsvc.NewBuilder(registry.NewLookup(devices), configsvc.NewResolver(src), nil)
	r := mux.NewRouter()
	New(b, devices).RegisterRoutes(r)
	return &env{router: r, devices: devices, device: dev}
}

func (e *env) get(path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

var templates = docs{
	{ID: "h2p-xml", Model: "H2P", Extension: "xml", Template: `<port>{{.profile.port_server}}</port><fw>{{.request.version}}</fw>`},
	{ID: "generic-cfg", Extension: "cfg", Template: "server_port={{.profile.port_server}}\n"},
	{ID: "broken", Model: "BROKEN", Extension: "cfg", Template: "{{.device.nope}}"},
}

func TestProvision_ServedByIdentifier(t *testing.T) {
	e := newEnv(t, templates)

	rec := e.get("/provision/dev-1.cfg", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "server_port=5062\n", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, ETag([]byte("server_port=5062\n")), rec.Header().Get("ETag"))
	assert.Equal(t, "private, max-age=0, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, `inline; filename="dev-1.cfg"`, rec.Header().Get("Content-Disposition"))

	cs, err := e.devices.Checkins(context.Background(), e.device.UUID, 10)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, models.CheckinServed, cs[0].Outcome)
	assert.Equal(t, configsvc.TierExtension, cs[0].Tier)
	assert.Equal(t, "generic-cfg", cs[0].TemplateKey)
}

func TestProvision_ModelFromUserAgentAndMACFilename(t *testing.T) {
	e := newEnv(t, templates)

	rec := e.get("/provision/3C28A60357A0.xml", map[string]string{
		"User-Agent":      "Ale H2P 2.10 3c28a60357a0",
		"X-Forwarded-For": "10.0.0.1, 1.2.3.4",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "<port>5062</port><fw>2.10</fw>", rec.Body.String())
	assert.Equal(t, "application/xml; charset=utf-8", rec.Header().Get("Content-Type"))

	d, err := e.devices.FindByUUID(context.Background(), e.device.UUID)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", d.LastIP)
	assert.Equal(t, models.CheckinServed, d.Status)
	assert.NotNil(t, d.LastSeen)
}

func TestProvision_AgentMACFallback(t *testing.T) {
	e := newEnv(t, templates)

	rec := e.get("/provision/unknown-name.cfg", map[string]string{"User-Agent": "Ale H2P 2.10 3c28a60357a0"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestProvision_NotModified(t *testing.T) {
	e := newEnv(t, templates)

	first := e.get("/provision/dev-1.cfg", nil)
	require.Equal(t, http.StatusOK, first.Code)

	rec := e.get("/provision/dev-1.cfg", map[string]string{"If-None-Match": first.Header().Get("ETag")})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	cs, err := e.devices.Checkins(context.Background(), e.device.UUID, 10)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, models.CheckinNotModified, cs[0].Outcome)
}

func TestProvision_Errors(t *testing.T) {
	e := newEnv(t, templates)

	rec := e.get("/provision/ghost.cfg", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = e.get("/provision/dev-1.json", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.get("/provision/dev-1.cfg?model=broken", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.get("/provision/dev-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	cs, err := e.devices.Checkins(context.Background(), e.device.UUID, 10)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, models.CheckinRenderError, cs[0].Outcome)
	assert.NotEmpty(t, cs[0].Error)
	assert.Equal(t, models.CheckinNoTemplate, cs[1].Outcome)
}

func TestProvision_TemplateKeyQuery(t *testing.T) {
	e := newEnv(t, append(docs{{ID: "special", Extension: "txt", Template: "special"}}, templates...))

	rec := e.get("/provision/dev-1.cfg?model=NoModel&template=special", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "special", rec.Body.String())
}

func TestProvision_StoreOutageIsNotFound(t *testing.T) {
	e := newEnv(t, failingSource{})

	rec := e.get("/provision/dev-1.cfg", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebug(t *testing.T) {
	e := newEnv(t, templates)

	rec := e.get("/provision/debug/dev-1?extension=cfg", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "generic-cfg", out["template_id"])
	assert.Equal(t, configsvc.TierExtension, out["tier"])
	assert.Equal(t, "office", out["model"])
	assert.Equal(t, e.device.UUID, out["uuid"])

	assert.Equal(t, http.StatusNotFound, e.get("/provision/debug/ghost?extension=cfg", nil).Code)

	// debug не пишет историю
	cs, err := e.devices.Checkins(context.Background(), e.device.UUID, 10)
	require.NoError(t, err)
	assert.Empty(t, cs)
}
