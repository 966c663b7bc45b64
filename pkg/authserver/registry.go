package authserver

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vakharwalad23/google-mcp-remote/pkg/oauth2"
)

// Registry is the set of downstream clients allowed to use this server,
// loaded from a YAML file at startup.
type Registry struct {
	Clients []*RegisteredClient `yaml:"clients" validate:"required,min=1,dive"`
}

type RegisteredClient struct {
	ClientID     string   `yaml:"client_id" validate:"required"`
	Name         string   `yaml:"client_name" validate:"required"`
	LogoURI      string   `yaml:"logo_uri"`
	Description  string   `yaml:"description"`
	RedirectURIs []string `yaml:"redirect_uris" validate:"required,min=1,dive,uri"`
}

func LoadRegistry(path string) (*Registry, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file '%s': %w", path, err)
	}

	var registry Registry
	if err := yaml.Unmarshal(yamlData, &registry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry file '%s': %w", path, err)
	}

	if err := validator.New().Struct(&registry); err != nil {
		return nil, fmt.Errorf("invalid registry file '%s': %w", path, err)
	}

	return &registry, nil
}

func (r *Registry) Client(clientID string) *RegisteredClient {
	for _, client := range r.Clients {
		if client.ClientID == clientID {
			return client
		}
	}
	return nil
}

func (r *Registry) AllowedRedirectURI(clientID, redirectURI string) bool {
	client := r.Client(clientID)
	if client == nil {
		return false
	}
	for _, allowed := range client.RedirectURIs {
		if redirectURI == allowed {
			return true
		}
	}
	return false
}

func (c *RegisteredClient) Metadata() *oauth2.ClientMetadata {
	return &oauth2.ClientMetadata{
		ClientID:    c.ClientID,
		Name:        c.Name,
		LogoURI:     c.LogoURI,
		Description: c.Description,
	}
}
