package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"provision/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound  = errors.New("template not found")
	ErrDuplicate = errors.New("template already exists")
)

// TemplateStore — коллекция шаблонов поверх общего Provider.
type TemplateStore struct {
	p          *Provider
	collection string
}

func NewTemplateStore(p *Provider) *TemplateStore {
	name := p.Options().Collection
	if name == "" {
		name = DefaultCollection
	}
	return &TemplateStore{p: p, collection: name}
}

func (s *TemplateStore) coll(ctx context.Context) (*mongo.Collection, error) {
	return s.p.Collection(ctx, s.collection)
}

// FindOne — один документ по фильтру; (nil, nil) если документов нет.
// Ошибка означает недоступность хранилища (включая неудачное подключение).
func (s *TemplateStore) FindOne(ctx context.Context, filter bson.M) (*models.TemplateDocument, error) {
	c, err := s.coll(ctx)
	if err != nil {
		return nil, err
	}
	var doc models.TemplateDocument
	if err := c.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (s *TemplateStore) Get(ctx context.Context, id string) (*models.TemplateDocument, error) {
	doc, err := s.FindOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

type ListFilter struct {
	Model     string // без учёта регистра
	Extension string
	Limit     int64
}

func (s *TemplateStore) List(ctx context.Context, f ListFilter) ([]models.TemplateDocument, error) {
	c, err := s.coll(ctx)
	if err != nil {
		return nil, err
	}
	filter := bson.M{}
	if f.Model != "" {
		filter["model"] = ModelPattern(f.Model)
	}
	if f.Extension != "" {
		filter["extension"] = NormalizeExtension(f.Extension)
	}
	opts := options.Find().SetSort(bson.D{{Key: "model", Value: 1}, {Key: "extension", Value: 1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := []models.TemplateDocument{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Insert — пустой ID заменяется новым UUID.
func (s *TemplateStore) Insert(ctx context.Context, doc *models.TemplateDocument) error {
	c, err := s.coll(ctx)
	if err != nil {
		return err
	}
	doc.Extension = NormalizeExtension(doc.Extension)
	if strings.TrimSpace(doc.ID) == "" {
		doc.ID = uuid.NewString()
	}
	if _, err := c.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *TemplateStore) Replace(ctx context.Context, doc *models.TemplateDocument) error {
	c, err := s.coll(ctx)
	if err != nil {
		return err
	}
	doc.Extension = NormalizeExtension(doc.Extension)
	res, err := c.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *TemplateStore) Delete(ctx context.Context, id string) error {
	c, err := s.coll(ctx)
	if err != nil {
		return err
	}
	res, err := c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureIndexes создаёт индексы под запросы резолвера.
func (s *TemplateStore) EnsureIndexes(ctx context.Context) error {
	c, err := s.coll(ctx)
	if err != nil {
		return err
	}
	_, err = c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "model", Value: 1}, {Key: "extension", Value: 1}}},
		{Keys: bson.D{{Key: "extension", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("ensure indexes on %s: %w", s.collection, err)
	}
	return nil
}

// NormalizeExtension: " .xml " → "xml". Регистр сохраняется: расширение сравнивается точно.
func NormalizeExtension(ext string) string {
	return strings.TrimPrefix(strings.TrimSpace(ext), ".")
}
