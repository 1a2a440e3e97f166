package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"provision/internal/macaddr"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ProtocolType string

const (
	ProtocolUDP ProtocolType = "UDP"
	ProtocolTCP ProtocolType = "TCP"
	ProtocolTLS ProtocolType = "TLS"
)

func (p ProtocolType) Valid() bool {
	switch p {
	case ProtocolUDP, ProtocolTCP, ProtocolTLS:
		return true
	}
	return false
}

const (
	MaxPort        = 65535
	MaxRegisterTTL = 7 * 24 * 3600
)

// DeviceProfile — общий профиль SIP-параметров для группы устройств.
// Уникальность имени обеспечивается индексом db.MigrateProfileUniqueIndex (с учётом soft-delete).
type DeviceProfile struct {
	gorm.Model
	Name         string            `gorm:"size:191;not null;index:idx_profile_name" json:"name"`
	PortServer   int               `gorm:"default:5060" json:"port_server"`
	BackupPort   int               `gorm:"default:5060" json:"backup_port"`
	ProtocolType ProtocolType      `gorm:"size:8;default:UDP" json:"protocol_type"`
	RegisterTTL  int               `gorm:"column:register_ttl;default:3600" json:"register_ttl"`
	Metadata     datatypes.JSONMap `json:"metadata"`
}

func (p DeviceProfile) String() string { return p.Name }

// Validate — проверки уровня модели (диапазоны портов, enum протокола).
func (p *DeviceProfile) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name: required"))
	}
	if p.PortServer < 0 || p.PortServer > MaxPort {
		errs = append(errs, fmt.Errorf("port_server: must be in 0..%d", MaxPort))
	}
	if p.BackupPort < 0 || p.BackupPort > MaxPort {
		errs = append(errs, fmt.Errorf("backup_port: must be in 0..%d", MaxPort))
	}
	if p.ProtocolType != "" && !p.ProtocolType.Valid() {
		errs = append(errs, fmt.Errorf("protocol_type: unknown %q", p.ProtocolType))
	}
	if p.RegisterTTL < 0 || p.RegisterTTL > MaxRegisterTTL {
		errs = append(errs, fmt.Errorf("register_ttl: must be in 0..%d", MaxRegisterTTL))
	}
	return errors.Join(errs...)
}

func (p *DeviceProfile) BeforeSave(*gorm.DB) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Metadata == nil {
		p.Metadata = datatypes.JSONMap{}
	}
	return p.Validate()
}

// DeviceConfig — запись устройства: идентификатор и/или MAC, ссылка на профиль
// и состояние последнего обращения за конфигурацией.
type DeviceConfig struct {
	gorm.Model
	UUID        string         `gorm:"column:uuid;size:36;uniqueIndex" json:"uuid"`
	Identifier  string         `gorm:"size:191;index" json:"identifier"`
	MACAddress  string         `gorm:"column:mac_address;size:32;index" json:"mac_address"`
	DeviceModel string         `gorm:"column:model;size:64" json:"model,omitempty"`
	ProfileID   *uint          `gorm:"index" json:"profile_id,omitempty"`
	Profile     *DeviceProfile `json:"profile,omitempty"`

	Status        string     `gorm:"size:16" json:"status,omitempty"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	LastIP        string     `gorm:"column:last_ip;size:45" json:"last_ip,omitempty"`
	LastUserAgent string     `gorm:"size:255" json:"last_user_agent,omitempty"`
}

// String — identifier, либо MAC, если identifier пуст.
func (d DeviceConfig) String() string {
	if d.Identifier != "" {
		return d.Identifier
	}
	return d.MACAddress
}

func (d *DeviceConfig) BeforeCreate(*gorm.DB) error {
	if strings.TrimSpace(d.UUID) == "" {
		d.UUID = uuid.NewString()
	}
	return nil
}

func (d *DeviceConfig) BeforeSave(*gorm.DB) error {
	d.Identifier = strings.TrimSpace(d.Identifier)
	d.MACAddress = macaddr.Strip(d.MACAddress)
	if d.Identifier == "" && d.MACAddress == "" {
		return errors.New("device: identifier or mac_address required")
	}
	return nil
}

const (
	CheckinServed      = "served"
	CheckinNotModified = "not_modified"
	CheckinNoTemplate  = "no_template"
	CheckinRenderError = "render_error"
)

// DeviceCheckin — история обращений устройства за конфигурацией.
type DeviceCheckin struct {
	gorm.Model
	DeviceUUID  string `gorm:"size:36;index" json:"device_uuid"`
	PublicIP    string `gorm:"size:45" json:"public_ip"`
	UserAgent   string `gorm:"size:255" json:"user_agent"`
	File        string `gorm:"size:128" json:"file"`
	TemplateKey string `gorm:"size:128" json:"template_key,omitempty"`
	Tier        string `gorm:"size:32" json:"tier,omitempty"`
	Outcome     string `gorm:"size:16" json:"outcome"`
	Error       string `gorm:"type:text" json:"error,omitempty"`
}
