// Package registry находит запись устройства по входящему идентификатору:
// сначала как MAC-адрес (любой формат записи), затем по точному identifier.
package registry

import (
	"context"
	"errors"
	"strings"

	"provision/internal/logs"
	"provision/internal/macaddr"
	"provision/internal/models"
	"provision/internal/repo"

	"github.com/sirupsen/logrus"
)

// Finder — выход к реляционному хранилищу. Отсутствие записи — repo.ErrNotFound.
type Finder interface {
	FindByMAC(ctx context.Context, canonicalMAC string) (*models.DeviceConfig, error)
	FindByIdentifier(ctx context.Context, identifier string) (*models.DeviceConfig, error)
}

type Lookup struct {
	finder Finder
	log    *logrus.Entry
}

func NewLookup(f Finder) *Lookup {
	return &Lookup{finder: f, log: logs.Component("registry")}
}

// Find возвращает (запись, true, nil) при совпадении, (nil, false, nil) если
// устройства нет. Ошибка — только неожиданный сбой хранилища.
func (l *Lookup) Find(ctx context.Context, identifier string) (*models.DeviceConfig, bool, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return nil, false, nil
	}

	if mac, ok := macaddr.Canonical(id); ok {
		d, err := l.finder.FindByMAC(ctx, mac)
		switch {
		case err == nil && d != nil:
			return d, true, nil
		case err != nil && !errors.Is(err, repo.ErrNotFound):
			return nil, false, err
		}
		l.log.WithField("mac", mac).Debug("no device by mac, trying identifier")
	}

	d, err := l.finder.FindByIdentifier(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if d == nil {
		return nil, false, nil
	}
	return d, true, nil
}

// FindAny пробует кандидатов по порядку и возвращает первое совпадение.
// Пустые кандидаты пропускаются.
func (l *Lookup) FindAny(ctx context.Context, candidates ...string) (*models.DeviceConfig, bool, error) {
	for _, c := range candidates {
		if strings.TrimSpace(c) == "" {
			continue
		}
		d, ok, err := l.Find(ctx, c)
		if err != nil || ok {
			return d, ok, err
		}
	}
	return nil, false, nil
}
