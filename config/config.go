package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая конфигурация сервиса провижининга.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	HTTPPort     string        `mapstructure:"http_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// DatabaseConfig — реляционная БД (профили и устройства).
// Driver: "mysql" | "postgres" | "sqlite" | "" (без БД).
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// MongoConfig — документное хранилище шаблонов.
// Если задан URI, остальные поля подключения игнорируются (кроме DBName как запасного имени базы).
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	DBName         string        `mapstructure:"db_name"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Collection     string        `mapstructure:"collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	StartupWait    time.Duration `mapstructure:"startup_wait"`
}

// Enabled сообщает, сконфигурировано ли хранилище шаблонов явно.
func (m MongoConfig) Enabled() bool {
	return m.URI != "" || m.Host != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.http_port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.host", "")
	v.SetDefault("mongo.port", 27017)
	v.SetDefault("mongo.db_name", "")
	v.SetDefault("mongo.user", "")
	v.SetDefault("mongo.password", "")
	v.SetDefault("mongo.collection", "device_templates")
	v.SetDefault("mongo.connect_timeout", 5*time.Second)
	v.SetDefault("mongo.startup_wait", 30*time.Second)
}

// старые имена переменных окружения из прежнего деплоя
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string][]string{
		"mongo.uri":      {"PROVISION_MONGO_URI", "MONGODB_URL", "MONGODB_URI"},
		"mongo.host":     {"PROVISION_MONGO_HOST", "MONGODB_HOST"},
		"mongo.port":     {"PROVISION_MONGO_PORT", "MONGODB_PORT"},
		"mongo.db_name":  {"PROVISION_MONGO_DB_NAME", "MONGODB_DB_NAME"},
		"mongo.user":     {"PROVISION_MONGO_USER", "MONGODB_USER"},
		"mongo.password": {"PROVISION_MONGO_PASSWORD", "MONGODB_PASSWORD"},
	}
	for key, envs := range legacy {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Load читает YAML-файл (если он есть) и накладывает переменные окружения PROVISION_*.
// Отсутствующий файл не ошибка: используются значения по умолчанию.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PROVISION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	return &cfg, nil
}
