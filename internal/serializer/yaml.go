package serializer

import (
	"gopkg.in/yaml.v3"
)

type yamlSerializer struct{}

// YAML returns the application/x-yaml serializer.
func YAML() Serializer { return yamlSerializer{} }

func (yamlSerializer) ContentType() string     { return "application/x-yaml" }
func (yamlSerializer) ContentEncoding() string { return EncodingUTF8 }

func (yamlSerializer) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (yamlSerializer) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }
