package configsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"provision/internal/logs"
	"provision/internal/models"

	"github.com/sirupsen/logrus"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrTemplateNotFound = errors.New("no template for device")
	ErrRender           = errors.New("template render failed")
)

// DeviceLookup — поиск устройства по одному из кандидатов (identifier, MAC).
type DeviceLookup interface {
	FindAny(ctx context.Context, candidates ...string) (*models.DeviceConfig, bool, error)
}

// BuildRequest — входные данные одного обращения устройства.
type BuildRequest struct {
	Identifier  string // из имени файла: identifier или MAC
	Extension   string
	Model       string // явное переопределение модели (?model=)
	TemplateKey string // прямой ключ документа (?template=)
	Request     RequestInfo
}

// BuiltConfig — результат сборки. При ErrTemplateNotFound/ErrRender
// возвращается частично заполненным (Device, Model), чтобы вызывающий мог записать историю.
type BuiltConfig struct {
	Device      *models.DeviceConfig
	Model       string
	Tier        string
	Template    *models.TemplateDocument
	Body        string
	ContentType string
}

type Builder struct {
	lookup   DeviceLookup
	resolver *Resolver
	renderer *Renderer
	log      *logrus.Entry
}

func NewBuilder(lookup DeviceLookup, resolver *Resolver, renderer *Renderer) *Builder {
	if renderer == nil {
		renderer = NewRenderer()
	}
	return &Builder{
		lookup:   lookup,
		resolver: resolver,
		renderer: renderer,
		log:      logs.Component("builder"),
	}
}

// Build: устройство → модель → шаблон → рендер.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*BuiltConfig, error) {
	d, ok, err := b.lookup.FindAny(ctx, req.Identifier, req.Request.MAC)
	if err != nil {
		return nil, fmt.Errorf("device lookup: %w", err)
	}
	if !ok {
		return nil, ErrDeviceNotFound
	}

	out := &BuiltConfig{Device: d, Model: ChooseModel(req, d)}

	res, ok := b.resolver.Resolve(ctx, Query{
		Model:     out.Model,
		Extension: req.Extension,
		Key:       req.TemplateKey,
	})
	if !ok {
		b.log.WithFields(logrus.Fields{
			"device":    d.String(),
			"model":     out.Model,
			"extension": req.Extension,
		}).Warn("no template found")
		return out, ErrTemplateNotFound
	}
	out.Tier = res.Tier
	out.Template = res.Document

	body, err := b.renderer.Render(res.Document, RenderData(d, out.Model, req.Request))
	if err != nil {
		return out, fmt.Errorf("%w: template %s: %w", ErrRender, res.Document.ID, err)
	}
	out.Body = body
	out.ContentType = ContentType(req.Extension)
	return out, nil
}

// ChooseModel — порядок: явный параметр → User-Agent → модель устройства → имя профиля.
func ChooseModel(req BuildRequest, d *models.DeviceConfig) string {
	for _, m := range []string{req.Model, req.Request.Model} {
		if s := strings.TrimSpace(m); s != "" {
			return s
		}
	}
	if d == nil {
		return ""
	}
	if s := strings.TrimSpace(d.DeviceModel); s != "" {
		return s
	}
	if d.Profile != nil {
		return strings.TrimSpace(d.Profile.Name)
	}
	return ""
}
