package configsvc

import (
	"context"
	"strings"

	"provision/internal/docstore"
	"provision/internal/logs"
	"provision/internal/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
)

// TemplateSource — выход к коллекции шаблонов. (nil, nil) — документа нет.
type TemplateSource interface {
	FindOne(ctx context.Context, filter bson.M) (*models.TemplateDocument, error)
}

// Query — параметры поиска шаблона.
type Query struct {
	Model     string
	Extension string
	Key       string // прямой ключ документа (_id)
}

// Tier — одна ступень поиска: чистая функция от запроса к фильтру.
// applicable=false — ступень к запросу не относится и пропускается.
type Tier struct {
	Name   string
	Filter func(q Query) (filter bson.M, applicable bool)
}

const (
	TierModelExtension = "model+extension"
	TierIdentifier     = "identifier"
	TierExtension      = "extension"
)

// DefaultTiers — порядок: модель+расширение → ключ → только расширение.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: TierModelExtension, Filter: modelExtensionFilter},
		{Name: TierIdentifier, Filter: identifierFilter},
		{Name: TierExtension, Filter: extensionFilter},
	}
}

func modelExtensionFilter(q Query) (bson.M, bool) {
	if q.Model == "" || q.Extension == "" {
		return nil, false
	}
	return bson.M{"model": docstore.ModelPattern(q.Model), "extension": q.Extension}, true
}

func identifierFilter(q Query) (bson.M, bool) {
	if q.Key == "" {
		return nil, false
	}
	return bson.M{"_id": q.Key}, true
}

func extensionFilter(q Query) (bson.M, bool) {
	if q.Extension == "" {
		return nil, false
	}
	return bson.M{"extension": q.Extension}, true
}

// Resolution — найденный документ и ступень, на которой он найден.
type Resolution struct {
	Document *models.TemplateDocument
	Tier     string
}

type Resolver struct {
	src   TemplateSource
	tiers []Tier
	log   *logrus.Entry
}

func NewResolver(src TemplateSource, tiers ...Tier) *Resolver {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	return &Resolver{src: src, tiers: tiers, log: logs.Component("resolver")}
}

func (r *Resolver) Tiers() []Tier { return r.tiers }

// Resolve проходит ступени по порядку, первое совпадение выигрывает.
// Сбой хранилища не пробрасывается: пишется в лог и трактуется как «не найдено».
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Resolution, bool) {
	q = normalizeQuery(q)
	for _, t := range r.tiers {
		filter, ok := t.Filter(q)
		if !ok {
			continue
		}
		doc, err := r.src.FindOne(ctx, filter)
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"tier":      t.Name,
				"model":     q.Model,
				"extension": q.Extension,
				"key":       q.Key,
				"error":     err,
			}).Error("template store query failed")
			return nil, false
		}
		if doc != nil {
			r.log.WithFields(logrus.Fields{
				"tier": t.Name,
				"id":   doc.ID,
			}).Debug("template resolved")
			return &Resolution{Document: doc, Tier: t.Name}, true
		}
	}
	return nil, false
}

func normalizeQuery(q Query) Query {
	return Query{
		Model:     strings.TrimSpace(q.Model),
		Extension: docstore.NormalizeExtension(q.Extension),
		Key:       strings.TrimSpace(q.Key),
	}
}
