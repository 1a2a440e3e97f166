package logs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_LevelAndFormat(t *testing.T) {
	t.Cleanup(func() { Init(Options{}) })

	Init(Options{Level: "DEBUG", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, Logger.Formatter)

	Init(Options{Level: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, Logger.Formatter)
}

func TestInit_File(t *testing.T) {
	t.Cleanup(func() { Init(Options{}) })

	path := filepath.Join(t.TempDir(), "provision.log")
	Init(Options{Level: "info", Format: "json", File: path})
	Component("test").Info("hello")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"component":"test"`)
	assert.Contains(t, string(b), `"msg":"hello"`)
}
