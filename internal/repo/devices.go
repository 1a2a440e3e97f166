package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"provision/internal/macaddr"
	"provision/internal/models"

	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "duplicate entry") ||
		strings.Contains(s, "unique constraint") ||
		strings.Contains(s, "duplicate key")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

type DeviceStore struct {
	db *gorm.DB
}

func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

func (s *DeviceStore) first(ctx context.Context, where string, arg any) (*models.DeviceConfig, error) {
	var m models.DeviceConfig
	err := s.db.WithContext(ctx).
		Preload("Profile").
		Where(where, arg).
		Order("id ASC").
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// FindByMAC ищет по каноническому MAC (нижний регистр, без разделителей).
func (s *DeviceStore) FindByMAC(ctx context.Context, mac string) (*models.DeviceConfig, error) {
	return s.first(ctx, "mac_address = ?", mac)
}

// FindByIdentifier — точное совпадение identifier.
func (s *DeviceStore) FindByIdentifier(ctx context.Context, identifier string) (*models.DeviceConfig, error) {
	if identifier == "" {
		return nil, ErrNotFound
	}
	return s.first(ctx, "identifier = ?", identifier)
}

func (s *DeviceStore) FindByUUID(ctx context.Context, id string) (*models.DeviceConfig, error) {
	return s.first(ctx, "uuid = ?", id)
}

type DeviceFilter struct {
	ProfileID *uint
	Search    string // подстрока identifier или mac
	Limit     int
	Offset    int
}

func (s *DeviceStore) List(ctx context.Context, f DeviceFilter) ([]models.DeviceConfig, error) {
	q := s.db.WithContext(ctx).Preload("Profile").Order("id ASC")
	if f.ProfileID != nil {
		q = q.Where("profile_id = ?", *f.ProfileID)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(identifier) LIKE ? OR mac_address LIKE ?", like, like)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []models.DeviceConfig
	err := q.Find(&out).Error
	return out, err
}

// conflict — другое живое устройство с тем же identifier или MAC.
func conflict(tx *gorm.DB, d *models.DeviceConfig) (*models.DeviceConfig, error) {
	id := strings.TrimSpace(d.Identifier)
	mac := macaddr.Strip(d.MACAddress)
	if id == "" && mac == "" {
		return nil, nil
	}
	q := tx.Preload("Profile").
		Where("((identifier = ? AND identifier <> '') OR (mac_address = ? AND mac_address <> ''))", id, mac)
	if d.ID != 0 {
		q = q.Where("id <> ?", d.ID)
	}
	var ex models.DeviceConfig
	err := q.Order("id ASC").First(&ex).Error
	switch {
	case err == nil:
		return &ex, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

// Create — MAC канонизируется хуком модели. Повтор identifier/MAC → ErrDuplicate,
// в d подставляется существующая запись.
func (s *DeviceStore) Create(ctx context.Context, d *models.DeviceConfig) error {
	var existing *models.DeviceConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ex, err := conflict(tx, d)
		if err != nil {
			return err
		}
		if ex != nil {
			existing = ex
			return ErrDuplicate
		}
		return tx.Omit("Profile").Create(d).Error
	})
	switch {
	case existing != nil:
		*d = *existing
		return ErrDuplicate
	case isDuplicateErr(err):
		return ErrDuplicate
	}
	return err
}

// Update — identifier/MAC, занятые другим устройством, → ErrDuplicate.
func (s *DeviceStore) Update(ctx context.Context, d *models.DeviceConfig) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ex, err := conflict(tx, d)
		if err != nil {
			return err
		}
		if ex != nil {
			return ErrDuplicate
		}
		return tx.Omit("Profile").Save(d).Error
	})
	if errors.Is(err, ErrDuplicate) || isDuplicateErr(err) {
		return ErrDuplicate
	}
	return err
}

func (s *DeviceStore) Delete(ctx context.Context, id string) error {
	tx := s.db.WithContext(ctx).Where("uuid = ?", id).Delete(&models.DeviceConfig{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordCheckin обновляет состояние устройства и пишет строку истории в одной транзакции.
func (s *DeviceStore) RecordCheckin(ctx context.Context, c models.DeviceCheckin) error {
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.DeviceConfig{}).
			Where("uuid = ?", c.DeviceUUID).
			UpdateColumns(map[string]any{
				"status":          c.Outcome,
				"last_seen":       now,
				"last_ip":         c.PublicIP,
				"last_user_agent": truncate(c.UserAgent, 255),
			}).Error; err != nil {
			return err
		}
		c.UserAgent = truncate(c.UserAgent, 255)
		return tx.Create(&c).Error
	})
}

// Checkins — последние обращения устройства, новые первыми.
func (s *DeviceStore) Checkins(ctx context.Context, deviceUUID string, limit int) ([]models.DeviceCheckin, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []models.DeviceCheckin
	err := s.db.WithContext(ctx).
		Where("device_uuid = ?", deviceUUID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
