package agent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wingprofile/agent/internal/encode"
)

// FileConfig is the on-disk shape of an AgentConfig, for embedders that
// want to describe an agent declaratively instead of chaining Builder
// calls. The CLI front-end that would parse flags into this shape is out
// of scope (§1); LoadConfigFile exists for the embedding library caller
// that already has a config file and wants a Builder out of it.
type FileConfig struct {
	ServerURL       string            `yaml:"server_url"`
	ApplicationName string            `yaml:"application_name"`
	TenantID        string            `yaml:"tenant_id"`
	BearerToken     string            `yaml:"bearer_token"`
	BasicAuthUser   string            `yaml:"basic_auth_user"`
	BasicAuthPass   string            `yaml:"basic_auth_pass"`
	Headers         map[string]string `yaml:"headers"`
	GlobalTags      map[string]string `yaml:"global_tags"`
	Format          string            `yaml:"format"`
	Compression     string            `yaml:"compression"`
	CycleSeconds    int               `yaml:"cycle_seconds"`
}

// LoadConfigFile reads a YAML file into a Builder, ready for Build.
func LoadConfigFile(path string) (*Builder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("agent: parse config file: %w", err)
	}

	b := NewBuilder(fc.ServerURL, fc.ApplicationName)
	if fc.TenantID != "" {
		b.WithTenantID(fc.TenantID)
	}
	if fc.BearerToken != "" {
		b.WithBearerAuth(fc.BearerToken)
	} else if fc.BasicAuthUser != "" {
		b.WithBasicAuth(fc.BasicAuthUser, fc.BasicAuthPass)
	}
	for k, v := range fc.Headers {
		b.WithHeader(k, v)
	}
	for k, v := range fc.GlobalTags {
		b.WithGlobalTag(k, v)
	}
	if fc.Format != "" {
		b.WithFormat(encode.Format(fc.Format))
	}
	if fc.Compression != "" {
		b.WithCompression(encode.Compression(fc.Compression))
	}
	if fc.CycleSeconds > 0 {
		b.WithCycle(time.Duration(fc.CycleSeconds) * time.Second)
	}
	return b, nil
}
