package configsvc

import (
	"bytes"
	"fmt"
	"mime"
	"reflect"
	"strings"
	"text/template"

	"provision/internal/docstore"
	"provision/internal/macaddr"
	"provision/internal/models"
)

// RequestInfo — то, что известно о текущем обращении устройства.
type RequestInfo struct {
	Vendor    string
	Model     string
	Version   string
	MAC       string
	PublicIP  string
	UserAgent string
}

// RenderData собирает данные для шаблона:
//
//	.device   uuid, identifier, mac_address, mac, model
//	.profile  name, port_server, backup_port, protocol_type, register_ttl, metadata
//	.request  vendor, model, version, mac, public_ip, user_agent
//	.model    модель, по которой искали шаблон
//
// Без устройства или профиля ключи остаются, со значениями по нулям,
// так что {{ default ... }} работает и для них.
func RenderData(d *models.DeviceConfig, model string, req RequestInfo) map[string]any {
	if d == nil {
		d = &models.DeviceConfig{}
	}
	p := d.Profile
	if p == nil {
		p = &models.DeviceProfile{}
	}
	md := map[string]any{}
	for k, v := range p.Metadata {
		md[k] = v
	}
	return map[string]any{
		"device": map[string]any{
			"uuid":        d.UUID,
			"identifier":  d.Identifier,
			"mac_address": d.MACAddress,
			"mac":         macaddr.Format(d.MACAddress),
			"model":       d.DeviceModel,
		},
		"profile": map[string]any{
			"name":          p.Name,
			"port_server":   p.PortServer,
			"backup_port":   p.BackupPort,
			"protocol_type": string(p.ProtocolType),
			"register_ttl":  p.RegisterTTL,
			"metadata":      md,
		},
		"request": map[string]any{
			"vendor":     req.Vendor,
			"model":      req.Model,
			"version":    req.Version,
			"mac":        req.MAC,
			"public_ip":  req.PublicIP,
			"user_agent": req.UserAgent,
		},
		"model": model,
	}
}

// Renderer — text/template с обязательными ключами.
type Renderer struct {
	funcs template.FuncMap
}

func NewRenderer() *Renderer {
	return &Renderer{funcs: template.FuncMap{
		"get": func(m map[string]any, k string) any { return m[k] },
		"has": func(m map[string]any, k string) bool { _, ok := m[k]; return ok },
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		// {{ default 5060 .profile.port_server }}: пустое или нулевое значение → def
		"default": func(def, v any) any {
			if rv := reflect.ValueOf(v); !rv.IsValid() || rv.IsZero() {
				return def
			}
			return v
		},
	}}
}

// Render — тело шаблона документа с данными.
func (r *Renderer) Render(doc *models.TemplateDocument, data any) (string, error) {
	tpl, err := r.parse(doc)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}
	return buf.String(), nil
}

// Check — только разбор, без выполнения.
func (r *Renderer) Check(doc *models.TemplateDocument) error {
	_, err := r.parse(doc)
	return err
}

func (r *Renderer) parse(doc *models.TemplateDocument) (*template.Template, error) {
	name := doc.ID
	if name == "" {
		name = "tpl"
	}
	tpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(r.funcs).
		Parse(doc.Template)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return tpl, nil
}

// ContentType по расширению запрошенного файла.
func ContentType(ext string) string {
	ext = strings.ToLower(docstore.NormalizeExtension(ext))
	switch ext {
	case "xml":
		return "application/xml; charset=utf-8"
	case "cfg", "conf", "txt", "ini":
		return "text/plain; charset=utf-8"
	case "json":
		return "application/json; charset=utf-8"
	}
	if ext != "" {
		if ct := mime.TypeByExtension("." + ext); ct != "" {
			if strings.HasPrefix(ct, "text/") && !strings.Contains(ct, "charset") {
				ct += "; charset=utf-8"
			}
			return ct
		}
	}
	return "application/octet-stream"
}
