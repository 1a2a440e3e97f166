package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"provision/internal/logs"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var ErrClosed = errors.New("docstore: provider closed")

// Connector устанавливает соединение. Подменяется в тестах.
type Connector func(ctx context.Context, o Options) (*mongo.Client, error)

// DefaultConnector подключается и проверяет доступность ping-ом в пределах ConnectTimeout.
func DefaultConnector(ctx context.Context, o Options) (*mongo.Client, error) {
	cctx, cancel := context.WithTimeout(ctx, o.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().
		ApplyURI(o.URI).
		SetConnectTimeout(o.ConnectTimeout).
		SetServerSelectionTimeout(o.ConnectTimeout))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// Provider лениво создаёт один общий хэндл БД на весь процесс.
// Первый вызов Database платит за подключение; параллельные первые вызовы
// ждут на мьютексе и получают тот же хэндл. Ошибка подключения не кэшируется.
type Provider struct {
	opts    Options
	connect Connector
	log     *logrus.Entry

	mu     sync.Mutex
	client *mongo.Client
	db     atomic.Pointer[mongo.Database]
	closed bool
}

func NewProvider(opts Options, connect Connector) *Provider {
	if connect == nil {
		connect = DefaultConnector
	}
	return &Provider{
		opts:    opts,
		connect: connect,
		log:     logs.Component("docstore"),
	}
}

func (p *Provider) Options() Options { return p.opts }

// Database возвращает общий хэндл, подключаясь при первом обращении.
func (p *Provider) Database(ctx context.Context) (*mongo.Database, error) {
	if db := p.db.Load(); db != nil {
		return db, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if db := p.db.Load(); db != nil {
		return db, nil
	}
	if p.closed {
		return nil, ErrClosed
	}

	client, err := p.connect(ctx, p.opts)
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"uri":   p.opts.Redacted(),
			"error": err,
		}).Error("mongo connect failed")
		return nil, fmt.Errorf("docstore connect: %w", err)
	}
	p.client = client
	db := client.Database(p.opts.Database)
	p.db.Store(db)

	p.log.WithFields(logrus.Fields{
		"uri":      p.opts.Redacted(),
		"database": p.opts.Database,
	}).Info("connected to mongo")
	return db, nil
}

// Collection — коллекция в общей БД.
func (p *Provider) Collection(ctx context.Context, name string) (*mongo.Collection, error) {
	db, err := p.Database(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

// Ping — для readiness-проверки; подключается, если ещё не подключены.
func (p *Provider) Ping(ctx context.Context) error {
	db, err := p.Database(ctx)
	if err != nil {
		return err
	}
	return db.Client().Ping(ctx, readpref.Primary())
}

// Close отключает клиента. Повторный Database после Close вернёт ErrClosed.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.db.Store(nil)
	if p.client == nil {
		return nil
	}
	err := p.client.Disconnect(ctx)
	p.client = nil
	return err
}
