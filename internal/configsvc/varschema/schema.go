// Package varschema — каталог полей профилей и устройств с нормализацией.
package varschema

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"provision/internal/macaddr"
	"provision/internal/models"
)

type VarType string

const (
	TString VarType = "string"
	TInt    VarType = "int"
	TEnum   VarType = "enum"
	TMAC    VarType = "mac"
)

type VarDef struct {
	Key      string
	Type     VarType
	Example  string
	Validate func(string) (string, error)               // нормализация/проверка одного значения
	Required bool                                       // безусловно обязателен
	Requires func(get func(string) (string, bool)) bool // условно обязателен (зависит от других полей)
}

/* ——— validators ——— */

var (
	reName       = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} ._\-]*$`)
	reIdentifier = regexp.MustCompile(`^[A-Za-z0-9._\-]+$`)
	reModel      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._+\-]*$`)
)

func normName(v string) (string, error) {
	s := strings.TrimSpace(v)
	if s == "" || len(s) > 191 || !reName.MatchString(s) {
		return "", errors.New("invalid name")
	}
	return s, nil
}

func normInt(min, max int) func(string) (string, error) {
	return func(v string) (string, error) {
		s := strings.TrimSpace(v)
		n, err := strconv.Atoi(s)
		if err != nil {
			return "", fmt.Errorf("not an integer: %q", s)
		}
		if n < min || n > max {
			return "", fmt.Errorf("int out of range [%d..%d]", min, max)
		}
		return strconv.Itoa(n), nil
	}
}

func normProtocol(v string) (string, error) {
	p := models.ProtocolType(strings.ToUpper(strings.TrimSpace(v)))
	if !p.Valid() {
		return "", errors.New("protocol_type must be UDP|TCP|TLS")
	}
	return string(p), nil
}

// MaxIdentifierLen — identifier вместе с расширением должен уложиться в имя
// файла /provision/{identifier}.{ext} (до 100 символов).
const MaxIdentifierLen = 95

func normIdentifier(v string) (string, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return "", nil
	}
	if len(s) > MaxIdentifierLen || !reIdentifier.MatchString(s) || strings.Trim(s, ".") == "" {
		return "", errors.New("invalid identifier")
	}
	return s, nil
}

func normMAC(v string) (string, error) {
	if strings.TrimSpace(v) == "" {
		return "", nil
	}
	c, ok := macaddr.Canonical(v)
	if !ok {
		return "", errors.New("invalid mac address (12 or 16 hex digits)")
	}
	return c, nil
}

func normModel(v string) (string, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return "", nil
	}
	if len(s) > 64 || !reModel.MatchString(s) {
		return "", errors.New("invalid model")
	}
	return s, nil
}

/* ——— catalog ——— */

func missing(get func(string) (string, bool), key string) bool {
	v, ok := get(key)
	return !ok || strings.TrimSpace(v) == ""
}

// ProfileCatalog — поля профиля.
var ProfileCatalog = []VarDef{
	{Key: "name", Type: TString, Example: "office-sip", Validate: normName, Required: true},
	{Key: "port_server", Type: TInt, Example: "5060", Validate: normInt(0, models.MaxPort)},
	{Key: "backup_port", Type: TInt, Example: "5060", Validate: normInt(0, models.MaxPort)},
	{Key: "protocol_type", Type: TEnum, Example: "UDP|TCP|TLS", Validate: normProtocol},
	{Key: "register_ttl", Type: TInt, Example: "3600", Validate: normInt(1, models.MaxRegisterTTL)},
}

// DeviceCatalog — поля устройства: identifier или mac_address обязателен.
var DeviceCatalog = []VarDef{
	{Key: "identifier", Type: TString, Example: "lobby-phone-01", Validate: normIdentifier,
		Requires: func(get func(string) (string, bool)) bool { return missing(get, "mac_address") }},
	{Key: "mac_address", Type: TMAC, Example: "aa:bb:cc:11:22:33", Validate: normMAC,
		Requires: func(get func(string) (string, bool)) bool { return missing(get, "identifier") }},
	{Key: "model", Type: TString, Example: "H2P", Validate: normModel},
}

/* ——— registry ——— */

var byKey map[string]VarDef

func init() {
	byKey = make(map[string]VarDef, len(ProfileCatalog)+len(DeviceCatalog))
	for _, d := range ProfileCatalog {
		byKey[d.Key] = d
	}
	for _, d := range DeviceCatalog {
		byKey[d.Key] = d
	}
}

func Def(key string) (VarDef, bool) { d, ok := byKey[key]; return d, ok }

// ValidateOne validates and normalizes a single field by key.
func ValidateOne(key, value string) (string, error) {
	if def, ok := Def(key); ok {
		v, err := def.Validate(value)
		if err != nil {
			return "", fmt.Errorf("%s: %w", key, err)
		}
		return v, nil
	}
	return "", fmt.Errorf("unknown field: %s", key)
}

// ValidateAll checks required and conditional fields of a catalog against a getter.
func ValidateAll(catalog []VarDef, get func(string) (string, bool)) error {
	missingKeys := []string{}
	for _, d := range catalog {
		need := d.Required
		if d.Requires != nil && d.Requires(get) {
			need = true
		}
		if need && missing(get, d.Key) {
			missingKeys = append(missingKeys, d.Key)
		}
	}
	if len(missingKeys) > 0 {
		return fmt.Errorf("missing required fields: %v", missingKeys)
	}
	return nil
}

// FieldError — ошибка одного поля для ответа API.
type FieldError struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// Normalize validates every present field of the input and returns normalized
// values; absent keys stay absent.
func Normalize(catalog []VarDef, in map[string]string) (map[string]string, []FieldError) {
	out := map[string]string{}
	var errs []FieldError
	for _, d := range catalog {
		v, ok := in[d.Key]
		if !ok {
			continue
		}
		nv, err := d.Validate(v)
		if err != nil {
			errs = append(errs, FieldError{Key: d.Key, Error: err.Error()})
			continue
		}
		out[d.Key] = nv
	}
	return out, errs
}
