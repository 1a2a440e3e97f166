package docstore

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"provision/config"

	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const (
	DefaultHost       = "localhost"
	DefaultPort       = 27017
	DefaultDatabase   = "provision_mongo"
	DefaultCollection = "device_templates"
)

// Options — итоговые параметры подключения к хранилищу шаблонов.
type Options struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// OptionsFromConfig выбирает источник подключения по приоритету:
//  1. полный URI (имя БД из пути URI, затем db_name, затем по умолчанию);
//  2. отдельные host/port/user/password/db_name;
//  3. значения по умолчанию (localhost:27017, provision_mongo).
func OptionsFromConfig(c config.MongoConfig) (Options, error) {
	o := Options{
		Collection:     strings.TrimSpace(c.Collection),
		ConnectTimeout: c.ConnectTimeout,
	}
	if o.Collection == "" {
		o.Collection = DefaultCollection
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}

	if uri := strings.TrimSpace(c.URI); uri != "" {
		cs, err := connstring.ParseAndValidate(uri)
		if err != nil {
			return Options{}, fmt.Errorf("mongo uri: %w", err)
		}
		o.URI = uri
		o.Database = firstNonEmpty(cs.Database, c.DBName, DefaultDatabase)
		return o, nil
	}

	host := firstNonEmpty(strings.TrimSpace(c.Host), DefaultHost)
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	o.Database = firstNonEmpty(strings.TrimSpace(c.DBName), DefaultDatabase)

	u := url.URL{Scheme: "mongodb", Host: net.JoinHostPort(host, strconv.Itoa(port))}
	if c.User != "" && c.Password != "" {
		// с учёткой: БД в пути служит authSource
		u.User = url.UserPassword(c.User, c.Password)
		u.Path = "/" + o.Database
	}
	o.URI = u.String()
	return o, nil
}

// Redacted — URI без пароля, для логов.
func (o Options) Redacted() string {
	u, err := url.Parse(o.URI)
	if err != nil {
		return "mongodb://<invalid>"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
