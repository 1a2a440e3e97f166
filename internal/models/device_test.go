package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceProfile_PortValidation(t *testing.T) {
	p := DeviceProfile{Name: "TP", PortServer: 5060, BackupPort: 5060}
	require.NoError(t, p.Validate())

	p.PortServer = 70000
	require.Error(t, p.Validate())

	p.PortServer = 5060
	p.BackupPort = 70000
	require.Error(t, p.Validate())

	p.BackupPort = -1
	require.Error(t, p.Validate())
}

func TestDeviceProfile_ProtocolAndName(t *testing.T) {
	p := DeviceProfile{Name: "  ", ProtocolType: "SCTP"}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
	assert.Contains(t, err.Error(), "protocol_type")
}

func TestDeviceProfile_BeforeSaveDefaultsMetadata(t *testing.T) {
	p := DeviceProfile{Name: " PSTR "}
	require.NoError(t, p.BeforeSave(nil))
	assert.Equal(t, "PSTR", p.String())
	assert.NotNil(t, p.Metadata)
	assert.Empty(t, p.Metadata)
}

func TestDeviceConfig_String(t *testing.T) {
	d := DeviceConfig{Identifier: "id-1", MACAddress: "aa11"}
	assert.Equal(t, "id-1", d.String())
	d.Identifier = ""
	assert.Equal(t, "aa11", d.String())
}

func TestDeviceConfig_BeforeSave(t *testing.T) {
	d := DeviceConfig{MACAddress: "AA:BB:CC:11:22:33"}
	require.NoError(t, d.BeforeSave(nil))
	assert.Equal(t, "aabbcc112233", d.MACAddress)

	empty := DeviceConfig{Identifier: "   "}
	require.Error(t, empty.BeforeSave(nil))
}

func TestDeviceConfig_BeforeCreateAssignsUUID(t *testing.T) {
	d := DeviceConfig{Identifier: "x"}
	require.NoError(t, d.BeforeCreate(nil))
	assert.Len(t, d.UUID, 36)

	keep := DeviceConfig{UUID: "fixed"}
	require.NoError(t, keep.BeforeCreate(nil))
	assert.Equal(t, "fixed", keep.UUID)
}
