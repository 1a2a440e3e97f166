package repo

import (
	"context"
	"errors"
	"strings"

	"provision/internal/models"

	"gorm.io/gorm"
)

type ProfileStore struct{ db *gorm.DB }

func NewProfileStore(db *gorm.DB) *ProfileStore { return &ProfileStore{db: db} }

// nameTaken — другой живой профиль с тем же именем.
func nameTaken(tx *gorm.DB, p *models.DeviceProfile) (*models.DeviceProfile, error) {
	q := tx.Where("name = ?", strings.TrimSpace(p.Name))
	if p.ID != 0 {
		q = q.Where("id <> ?", p.ID)
	}
	var ex models.DeviceProfile
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

// Create — при конфликте имени возвращает ErrDuplicate и подставляет существующий профиль в p.
func (s *ProfileStore) Create(ctx context.Context, p *models.DeviceProfile) error {
	var existing *models.DeviceProfile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ex, err := nameTaken(tx, p)
		if err != nil {
			return err
		}
		if ex != nil {
			existing = ex
			return ErrDuplicate
		}
		return tx.Create(p).Error
	})
	switch {
	case existing != nil:
		*p = *existing
		return ErrDuplicate
	case isDuplicateErr(err):
		if ex, e2 := s.GetByName(ctx, strings.TrimSpace(p.Name)); e2 == nil {
			*p = *ex
		}
		return ErrDuplicate
	}
	return err
}

func (s *ProfileStore) Get(ctx context.Context, id uint) (*models.DeviceProfile, error) {
	var p models.DeviceProfile
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *ProfileStore) GetByName(ctx context.Context, name string) (*models.DeviceProfile, error) {
	var p models.DeviceProfile
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *ProfileStore) List(ctx context.Context) ([]models.DeviceProfile, error) {
	var out []models.DeviceProfile
	err := s.db.WithContext(ctx).Order("id").Find(&out).Error
	return out, err
}

func (s *ProfileStore) Update(ctx context.Context, p *models.DeviceProfile) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ex, err := nameTaken(tx, p)
		if err != nil {
			return err
		}
		if ex != nil {
			return ErrDuplicate
		}
		return tx.Save(p).Error
	})
	if errors.Is(err, ErrDuplicate) || isDuplicateErr(err) {
		return ErrDuplicate
	}
	return err
}

// Delete отвязывает устройства от профиля и мягко удаляет профиль.
func (s *ProfileStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.DeviceConfig{}).
			Where("profile_id = ?", id).
			UpdateColumn("profile_id", gorm.Expr("NULL")).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.DeviceProfile{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
