// Package provctrl — HTTP-точка, с которой устройства забирают конфигурацию:
//
//	GET /provision/{identifier-or-mac}.{ext}[?model=...&template=...]
//	GET /provision/debug/{identifier}?extension=...
package provctrl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"provision/internal/configsvc"
	"provision/internal/logs"
	"provision/internal/models"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ConfigBuilder — сборщик конфигурации устройства.
type ConfigBuilder interface {
	Build(ctx context.Context, req configsvc.BuildRequest) (*configsvc.BuiltConfig, error)
}

// CheckinRecorder — запись истории обращений.
type CheckinRecorder interface {
	RecordCheckin(ctx context.Context, c models.DeviceCheckin) error
}

type Controller struct {
	builder  ConfigBuilder
	checkins CheckinRecorder // может быть nil
	log      *logrus.Entry
}

func New(b ConfigBuilder, rec CheckinRecorder) *Controller {
	return &Controller{builder: b, checkins: rec, log: logs.Component("provctrl")}
}

func (c *Controller) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/provision/debug/{identifier}", c.handleDebug).Methods(http.MethodGet)
	r.HandleFunc("/provision/{filename}", c.handleProvision).Methods(http.MethodGet, http.MethodHead)
}

// buildRequest собирает BuildRequest из запроса: имя файла, query, User-Agent, IP.
func (c *Controller) buildRequest(r *http.Request, identifier, ext string) configsvc.BuildRequest {
	q := r.URL.Query()
	raw := r.UserAgent()
	info := configsvc.RequestInfo{UserAgent: raw, PublicIP: PublicIP(r)}
	if ua, ok := ParseUserAgent(raw); ok {
		info.Vendor, info.Model, info.Version, info.MAC = ua.Vendor, ua.Model, ua.Version, ua.MAC
	} else if raw != "" {
		c.log.WithField("user_agent", raw).Debug("User-Agent parsing failed")
	}
	return configsvc.BuildRequest{
		Identifier:  identifier,
		Extension:   ext,
		Model:       q.Get("model"),
		TemplateKey: q.Get("template"),
		Request:     info,
	}
}

func (c *Controller) handleProvision(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["filename"]
	name := SanitizeFilename(raw)
	if name == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid filename", map[string]string{"filename": raw})
		return
	}
	base, ext := SplitFilename(name)
	if ext == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "file extension required", map[string]string{"filename": name})
		return
	}

	req := c.buildRequest(r, base, ext)
	out, err := c.builder.Build(r.Context(), req)
	checkin := models.DeviceCheckin{
		PublicIP:    req.Request.PublicIP,
		UserAgent:   req.Request.UserAgent,
		File:        name,
		TemplateKey: req.TemplateKey,
	}
	if out != nil && out.Device != nil {
		checkin.DeviceUUID = out.Device.UUID
		checkin.Tier = out.Tier
		if out.Template != nil {
			checkin.TemplateKey = out.Template.ID
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, configsvc.ErrDeviceNotFound):
		c.log.WithFields(logrus.Fields{"file": name, "ip": req.Request.PublicIP}).Info("unknown device")
		models.WriteProblem(w, http.StatusNotFound, "Not found", "device not found", map[string]string{"identifier": base})
		return
	case errors.Is(err, configsvc.ErrTemplateNotFound):
		checkin.Outcome = models.CheckinNoTemplate
		c.record(r.Context(), checkin)
		models.WriteProblem(w, http.StatusNotFound, "Not found", "no template for device", map[string]string{
			"identifier": base, "extension": ext,
		})
		return
	case errors.Is(err, configsvc.ErrRender):
		checkin.Outcome = models.CheckinRenderError
		checkin.Error = err.Error()
		c.record(r.Context(), checkin)
		c.log.WithFields(logrus.Fields{"file": name, "error": err}).Warn("render failed")
		models.WriteProblem(w, http.StatusUnprocessableEntity, "Render failed", err.Error(), nil)
		return
	default:
		c.log.WithFields(logrus.Fields{"file": name, "error": err}).Error("build failed")
		models.WriteProblem(w, http.StatusInternalServerError, "Internal error", "config build failed", nil)
		return
	}

	etag := ETag([]byte(out.Body))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=0, must-revalidate")

	if etagMatch(r.Header.Get("If-None-Match"), etag) {
		checkin.Outcome = models.CheckinNotModified
		c.record(r.Context(), checkin)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	checkin.Outcome = models.CheckinServed
	c.record(r.Context(), checkin)

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", `inline; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(out.Body))
	}
}

func (c *Controller) record(ctx context.Context, ch models.DeviceCheckin) {
	if c.checkins == nil || ch.DeviceUUID == "" {
		return
	}
	if err := c.checkins.RecordCheckin(ctx, ch); err != nil {
		c.log.WithFields(logrus.Fields{
			"device": ch.DeviceUUID,
			"error":  err,
		}).Warn("record checkin failed")
	}
}

func (c *Controller) handleDebug(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["identifier"]
	ext := strings.TrimPrefix(strings.TrimSpace(r.URL.Query().Get("extension")), ".")

	out, err := c.builder.Build(r.Context(), c.buildRequest(r, id, ext))
	switch {
	case err == nil:
	case errors.Is(err, configsvc.ErrDeviceNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not found", "device not found", map[string]string{"identifier": id})
		return
	case errors.Is(err, configsvc.ErrTemplateNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not found", "no template for device", map[string]string{
			"identifier": id, "model": out.Model, "extension": ext,
		})
		return
	case errors.Is(err, configsvc.ErrRender):
		models.WriteProblem(w, http.StatusUnprocessableEntity, "Render failed", err.Error(), map[string]string{
			"tier": out.Tier,
		})
		return
	default:
		c.log.WithFields(logrus.Fields{"identifier": id, "error": err}).Error("debug build failed")
		models.WriteProblem(w, http.StatusInternalServerError, "Internal error", "config build failed", nil)
		return
	}

	sum := sha256.Sum256([]byte(out.Body))
	prev := preview(out.Body, previewLen)
	resp := struct {
		Device      string `json:"device"`
		UUID        string `json:"uuid"`
		Model       string `json:"model"`
		Tier        string `json:"tier"`
		TemplateID  string `json:"template_id"`
		ContentType string `json:"content_type"`
		Size        int    `json:"size"`
		SHA256      string `json:"sha256"`
		Preview     string `json:"preview"`
	}{
		Device:      out.Device.String(),
		UUID:        out.Device.UUID,
		Model:       out.Model,
		Tier:        out.Tier,
		TemplateID:  out.Template.ID,
		ContentType: out.ContentType,
		Size:        len(out.Body),
		SHA256:      hex.EncodeToString(sum[:]),
		Preview:     prev,
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

const previewLen = 300

// preview обрезает тело до n байт, не разрывая UTF-8 последовательность.
func preview(body string, n int) string {
	if len(body) <= n {
		return body
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "...(truncated)"
}

// ETag — сильный ETag по sha256 тела.
func ETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// etagMatch — слабое сравнение по RFC 7232 для If-None-Match.
func etagMatch(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, t := range strings.Split(header, ",") {
		t = strings.TrimPrefix(strings.TrimSpace(t), "W/")
		if t == etag {
			return true
		}
	}
	return false
}
