// Package logs держит общий логгер процесса (logrus).
package logs

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	File   string // пусто = stdout
}

// Logger — общий логгер. До Init пишет в stderr с уровнем info.
var Logger = logrus.New()

// Init перенастраивает Logger. Ошибка открытия файла не фатальна:
// остаёмся на stdout и пишем предупреждение.
func Init(o Options) {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(o.Level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)

	switch strings.ToLower(o.Format) {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stdout
	if o.File != "" {
		f, ferr := os.OpenFile(o.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if ferr != nil {
			Logger.SetOutput(out)
			Logger.Warnf("log file %s: %v (falling back to stdout)", o.File, ferr)
			return
		}
		out = f
	}
	Logger.SetOutput(out)
}

// Component возвращает entry с полем component.
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}
