package docstore

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ModelPattern — точное совпадение model без учёта регистра.
// Имя экранируется: "H2P+" не должно становиться регулярным выражением.
func ModelPattern(model string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(model) + "$", Options: "i"}
}
