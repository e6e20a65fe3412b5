// Package config loads tool configuration from a YAML file with environment
// overrides. A .env file in the working directory is honored, which keeps
// local setups out of the shell profile.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// OCRConfig controls the recognition fallback.
type OCRConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Languages []string `yaml:"languages"`
	Upscale   bool     `yaml:"upscale"`
}

// OllamaConfig points at an optional local model for unknown documents.
type OllamaConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

// ServerConfig holds the web UI listen address.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the full tool configuration.
type Config struct {
	Folder     string       `yaml:"folder"`
	RulesPath  string       `yaml:"rules_path"`
	ScriptPath string       `yaml:"script_path"`
	CachePath  string       `yaml:"cache_path"`
	MaxPages   int          `yaml:"max_pages"`
	Debug      bool         `yaml:"debug"`
	OCR        OCRConfig    `yaml:"ocr"`
	Ollama     OllamaConfig `yaml:"ollama"`
	Server     ServerConfig `yaml:"server"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		MaxPages: 2,
		OCR:      OCRConfig{Enabled: true, Languages: []string{"eng"}, Upscale: true},
		Server:   ServerConfig{Addr: "127.0.0.1:8750"},
	}
}

// Load reads the optional YAML file at path, then applies environment
// overrides. An empty path skips the file; a missing file at an explicit
// path is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	// Best effort: absence of a .env file is the normal case.
	_ = godotenv.Load()
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setStr("PDFNAMER_FOLDER", &cfg.Folder)
	setStr("PDFNAMER_RULES", &cfg.RulesPath)
	setStr("PDFNAMER_SCRIPT", &cfg.ScriptPath)
	setStr("PDFNAMER_CACHE", &cfg.CachePath)
	setStr("PDFNAMER_ADDR", &cfg.Server.Addr)
	setStr("PDFNAMER_OLLAMA_URL", &cfg.Ollama.URL)
	setStr("PDFNAMER_OLLAMA_MODEL", &cfg.Ollama.Model)
	setBool("PDFNAMER_DEBUG", &cfg.Debug)
	setBool("PDFNAMER_OCR", &cfg.OCR.Enabled)
	setBool("PDFNAMER_OCR_UPSCALE", &cfg.OCR.Upscale)
	if v, ok := os.LookupEnv("PDFNAMER_OCR_LANGS"); ok && v != "" {
		var langs []string
		for _, l := range strings.Split(v, ",") {
			if l = strings.TrimSpace(l); l != "" {
				langs = append(langs, l)
			}
		}
		if len(langs) > 0 {
			cfg.OCR.Languages = langs
		}
	}
	if v, ok := os.LookupEnv("PDFNAMER_MAX_PAGES"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxPages = n
		}
	}
}
