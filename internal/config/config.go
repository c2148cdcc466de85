// Package config loads the service configuration from an ini file, with
// one [provider:NAME] section per upstream LLM endpoint.
package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// Provider is one [provider:NAME] section.
type Provider struct {
	Name        string
	Type        string `ini:"type"`
	URL         string `ini:"url"`
	APIKey      string `ini:"api_key"`
	MaxModelLen int    `ini:"max_model_len"`
	Permits     int64  `ini:"permits"`
}

// Config is the complete service configuration.
type Config struct {
	// [web] listen address of the HTTP facade.
	Listen string

	Providers []Provider

	// [sandbox] root under which per-conversation directories live.
	SandboxPath string

	// [library] root of the prompt/skill library.
	LibraryPath string

	// [journal] sqlite event journal path; empty disables the journal.
	JournalPath string

	// [tools] YAML tool definition directory plus REST call defaults.
	ToolDefinitionPath string
	ToolBaseURL        string
	Tenant             string

	// [parser] schema and sample logs for the parser builder.
	ParserSchemaPath string
	ParserLogDir     string
}

func defaults() *Config {
	return &Config{
		Listen:      ":8080",
		SandboxPath: "/tmp/llm-microlink/sandbox",
		LibraryPath: "./library",
		ToolBaseURL: "http://127.0.0.1:8898",
	}
}

// Load reads the ini file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	file, err := ini.LooseLoad(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	if section := file.Section("web"); section != nil {
		cfg.Listen = section.Key("listen").MustString(cfg.Listen)
	}
	if section := file.Section("sandbox"); section != nil {
		cfg.SandboxPath = section.Key("path").MustString(cfg.SandboxPath)
	}
	if section := file.Section("library"); section != nil {
		cfg.LibraryPath = section.Key("path").MustString(cfg.LibraryPath)
	}
	if section := file.Section("journal"); section != nil {
		cfg.JournalPath = section.Key("path").MustString(cfg.JournalPath)
	}
	if section := file.Section("tools"); section != nil {
		cfg.ToolDefinitionPath = section.Key("path").MustString(cfg.ToolDefinitionPath)
		cfg.ToolBaseURL = section.Key("base_url").MustString(cfg.ToolBaseURL)
		cfg.Tenant = section.Key("tenant").MustString(cfg.Tenant)
	}
	if section := file.Section("parser"); section != nil {
		cfg.ParserSchemaPath = section.Key("schema").MustString(cfg.ParserSchemaPath)
		cfg.ParserLogDir = section.Key("logs").MustString(cfg.ParserLogDir)
	}

	for _, section := range file.Sections() {
		name, ok := strings.CutPrefix(section.Name(), "provider:")
		if !ok {
			continue
		}
		p := Provider{Name: name}
		if err := section.MapTo(&p); err != nil {
			return nil, fmt.Errorf("config section [%s]: %w", section.Name(), err)
		}
		if p.URL == "" {
			return nil, fmt.Errorf("config section [%s]: url is required", section.Name())
		}
		cfg.Providers = append(cfg.Providers, p)
	}

	return cfg, nil
}
