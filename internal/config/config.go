// Package config loads pdfjson settings from pdfjson.yaml, pdfjson.yml,
// pdfjson.toml or pdfjson.json (JSON with comments), validates them against
// an embedded CUE schema, and fills in defaults.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Defaults.
const (
	DefaultQPDF     = "qpdf"
	DefaultAddr     = "127.0.0.1:8080"
	DefaultJournal  = ":memory:"
	DefaultTimeout  = 2 * time.Minute
	DefaultDebounce = 250 * time.Millisecond
)

// FileNames are searched in order when no explicit path is given.
var FileNames = []string{"pdfjson.yaml", "pdfjson.yml", "pdfjson.toml", "pdfjson.json"}

// File is the on-disk shape of a config file.
type File struct {
	QPDF           string `json:"qpdf,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	Addr           string `json:"addr,omitempty"`
	Journal        string `json:"journal,omitempty"`
	RejectWhenBusy bool   `json:"reject_when_busy,omitempty"`
	Debounce       string `json:"debounce,omitempty"`
}

// Config is the resolved configuration.
type Config struct {
	QPDF           string
	Timeout        time.Duration
	Addr           string
	Journal        string
	RejectWhenBusy bool
	Debounce       time.Duration

	// Source is the file the values were read from; empty for defaults.
	Source string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		QPDF:     DefaultQPDF,
		Timeout:  DefaultTimeout,
		Addr:     DefaultAddr,
		Journal:  DefaultJournal,
		Debounce: DefaultDebounce,
	}
}

// ValidationError reports one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// InvalidError is returned when a config file does not match the schema.
type InvalidError struct {
	Path   string
	Errors []ValidationError
}

func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("invalid config %s: %s", e.Path, strings.Join(msgs, "; "))
}

// IsInvalid reports whether err is an *InvalidError.
func IsInvalid(err error) bool {
	var ie *InvalidError
	return errors.As(err, &ie)
}

// Load reads the config at path. An empty path searches dir for FileNames
// and returns Default() if none exists; an explicit path must exist.
func Load(path, dir string) (*Config, error) {
	if path == "" {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

// Parse decodes data in the format implied by name's extension, validates
// it, and applies defaults for unset fields.
func Parse(name string, data []byte) (*Config, error) {
	raw, err := decode(name, data)
	if err != nil {
		return nil, err
	}

	file, err := validate(name, raw)
	if err != nil {
		return nil, err
	}

	return resolve(file)
}

func decode(name string, data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return raw, nil
	}

	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML config %s: %w", name, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse TOML config %s: %w", name, err)
		}
	case ".json":
		v, err := hujson.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse JSON config %s: %w", name, err)
		}
		v.Standardize()
		if err := json.Unmarshal(v.Pack(), &raw); err != nil {
			return nil, fmt.Errorf("decode JSON config %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml, .toml or .json)", ext)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// validate unifies raw with the #Config schema and decodes the result.
func validate(name string, raw map[string]any) (File, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return File{}, fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return File{}, &InvalidError{Path: name, Errors: validationErrors(err)}
	}

	var file File
	if err := v.Decode(&file); err != nil {
		return File{}, fmt.Errorf("decode config %s: %w", name, err)
	}
	return file, nil
}

func validationErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

func resolve(f File) (*Config, error) {
	cfg := Default()
	if f.QPDF != "" {
		cfg.QPDF = f.QPDF
	}
	if f.Addr != "" {
		cfg.Addr = f.Addr
	}
	if f.Journal != "" {
		cfg.Journal = f.Journal
	}
	cfg.RejectWhenBusy = f.RejectWhenBusy

	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return nil, fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if f.Debounce != "" {
		d, err := time.ParseDuration(f.Debounce)
		if err != nil {
			return nil, fmt.Errorf("debounce: %w", err)
		}
		cfg.Debounce = d
	}
	return cfg, nil
}
