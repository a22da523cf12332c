package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/homereach/contact-cli/internal/model"
)

// Templates is the named message-template catalog. Portal entries select
// the template used when a run does not name one; the default entry backs
// portals without an override. Message bodies may carry the {title}
// placeholder, substituted per job at send time.
type Templates struct {
	Default  string            `yaml:"default"`
	Messages map[string]string `yaml:"messages"`
	Portals  map[string]string `yaml:"portals"`
}

// LoadTemplates reads the template catalog from a YAML file.
func LoadTemplates(path string) (*Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read templates %s", path)
	}
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrapf(err, "config: parse templates %s", path)
	}
	return &t, nil
}

// Resolve picks the message body for a run: an explicitly named template
// wins, then the portal's override, then the catalog default.
func (t *Templates) Resolve(name string, p model.Portal) (string, error) {
	pick := name
	if pick == "" {
		pick = t.Portals[string(p)]
	}
	if pick == "" {
		pick = t.Default
	}
	if pick == "" {
		return "", eris.New("config: no message template configured")
	}
	msg, ok := t.Messages[pick]
	if !ok {
		return "", eris.Errorf("config: template %q not found", pick)
	}
	return msg, nil
}
