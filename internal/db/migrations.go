// internal/db/migrations.go
package db

import (
	"fmt"

	"provision/internal/logs"
	"provision/internal/macaddr"
	"provision/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// liveUnique — уникальный индекс по колонке среди неудалённых (и, если
// skipEmpty, непустых) записей.
type liveUnique struct {
	model     any
	table     string
	column    string
	size      int
	index     string
	skipEmpty bool
}

func (u liveUnique) migrate(db *gorm.DB) error {
	dialect := db.Dialector.Name()

	switch dialect {
	case "mysql":
		// частичных индексов нет: уникальность по виртуальной колонке,
		// которая NULL для удалённых строк (NULL в unique не конфликтуют)
		live := u.column + "_live"
		cond := "`deleted_at` IS NULL"
		if u.skipEmpty {
			cond += fmt.Sprintf(" AND `%s` <> ''", u.column)
		}
		if !db.Migrator().HasColumn(u.model, live) {
			if err := db.Exec(fmt.Sprintf(
				"ALTER TABLE `%s` ADD COLUMN `%s` VARCHAR(%d) AS (IF(%s, `%s`, NULL)) VIRTUAL",
				u.table, live, u.size, cond, u.column)).Error; err != nil {
				return err
			}
		}
		if db.Migrator().HasIndex(u.model, u.index) {
			return nil
		}
		return db.Exec(fmt.Sprintf("CREATE UNIQUE INDEX `%s` ON `%s` (`%s`)", u.index, u.table, live)).Error

	case "postgres":
		cond := `"deleted_at" IS NULL`
		if u.skipEmpty {
			cond += fmt.Sprintf(` AND "%s" <> ''`, u.column)
		}
		return db.Exec(fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON "%s" ("%s") WHERE %s`,
			u.index, u.table, u.column, cond)).Error

	case "sqlite":
		cond := "deleted_at IS NULL"
		if u.skipEmpty {
			cond += fmt.Sprintf(" AND %s <> ''", u.column)
		}
		return db.Exec(fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s) WHERE %s`,
			u.index, u.table, u.column, cond)).Error

	default:
		return fmt.Errorf("unsupported dialect: %s", dialect)
	}
}

// MigrateProfileUniqueIndex — уникальность имени профиля среди неудалённых записей.
func MigrateProfileUniqueIndex(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	// старый mysql-индекс (name, deleted_at) не ловил дубли живых строк
	if db.Dialector.Name() == "mysql" && db.Migrator().HasIndex(&models.DeviceProfile{}, "ux_profiles_name_del") {
		if err := db.Migrator().DropIndex(&models.DeviceProfile{}, "ux_profiles_name_del"); err != nil {
			return err
		}
	}
	return liveUnique{
		model: &models.DeviceProfile{}, table: "device_profiles",
		column: "name", size: 191, index: "ux_profiles_name_null",
	}.migrate(db)
}

// MigrateDeviceUniqueIndexes — identifier и MAC однозначно указывают на
// одно живое устройство. Пустые значения не участвуют.
func MigrateDeviceUniqueIndexes(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	for _, u := range []liveUnique{
		{model: &models.DeviceConfig{}, table: "device_configs", column: "identifier", size: 191, index: "ux_devices_identifier_live", skipEmpty: true},
		{model: &models.DeviceConfig{}, table: "device_configs", column: "mac_address", size: 32, index: "ux_devices_mac_live", skipEmpty: true},
	} {
		if err := u.migrate(db); err != nil {
			return fmt.Errorf("%s: %w", u.index, err)
		}
	}
	return nil
}

// NormalizeStoredMACs переписывает MAC-адреса, сохранённые с разделителями или
// в верхнем регистре (импорт из старой системы), в канонический вид.
// Возвращает число исправленных записей.
func NormalizeStoredMACs(db *gorm.DB) (int, error) {
	if db == nil {
		return 0, nil
	}
	var rows []struct {
		ID         uint
		MACAddress string `gorm:"column:mac_address"`
	}
	if err := db.Model(&models.DeviceConfig{}).
		Select("id", "mac_address").
		Where("mac_address <> ''").
		Find(&rows).Error; err != nil {
		return 0, err
	}

	fixed := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, r := range rows {
			c := macaddr.Strip(r.MACAddress)
			if c == r.MACAddress {
				continue
			}
			var taken int64
			if err := tx.Model(&models.DeviceConfig{}).
				Where("mac_address = ? AND id <> ?", c, r.ID).
				Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				// канонический MAC уже у другого устройства — оставляем как есть
				logs.Component("db").WithFields(logrus.Fields{
					"device": r.ID,
					"mac":    r.MACAddress,
				}).Warn("mac address conflicts with another device, not normalized")
				continue
			}
			// UpdateColumn: без хуков и без updated_at
			if err := tx.Model(&models.DeviceConfig{}).
				Where("id = ?", r.ID).
				UpdateColumn("mac_address", c).Error; err != nil {
				return fmt.Errorf("device %d: %w", r.ID, err)
			}
			fixed++
		}
		return nil
	})
	return fixed, err
}
