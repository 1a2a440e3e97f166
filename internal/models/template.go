package models

// TemplateDocument — документ коллекции device_templates.
// model сравнивается без учёта регистра; документ без model служит
// общим шаблоном для своего расширения.
type TemplateDocument struct {
	ID        string `bson:"_id,omitempty" json:"id"`
	Model     string `bson:"model,omitempty" json:"model,omitempty"`
	Extension string `bson:"extension" json:"extension"`
	Template  string `bson:"template" json:"template"`
}
