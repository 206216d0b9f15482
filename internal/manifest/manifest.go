// Package manifest serves the plugin manifest, OpenAPI document and logo,
// substituting the public base URL for the PLUGIN_HOSTNAME placeholder.
package manifest

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

const Placeholder = "PLUGIN_HOSTNAME"

var ErrInvalid = errors.New("invalid manifest")

//go:embed assets/ai-plugin.json assets/openapi.yaml assets/logo.png
var assets embed.FS

type Options struct {
	ManifestPath string
	OpenAPIPath  string
	LogoPath     string
	// Scheme forces the public scheme; empty picks http for loopback hosts
	// and https otherwise.
	Scheme string
	// BearerAuth advertises user bearer-token auth in the manifest.
	BearerAuth bool
}

type Manifest struct {
	opts Options
}

func New(opts Options) *Manifest { return &Manifest{opts: opts} }

func load(path, embedded string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return assets.ReadFile(embedded)
}

// BaseURL builds the public origin for a request Host header.
func (m *Manifest) BaseURL(host string) string {
	scheme := m.opts.Scheme
	if scheme == "" {
		scheme = "https"
		if isLoopback(host) {
			scheme = "http"
		}
	}
	return scheme + "://" + host
}

func isLoopback(host string) bool {
	h := host
	if hh, _, err := net.SplitHostPort(host); err == nil {
		h = hh
	}
	h = strings.Trim(h, "[]")
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

// PluginJSON returns ai-plugin.json for host.
func (m *Manifest) PluginJSON(host string) ([]byte, error) {
	raw, err := load(m.opts.ManifestPath, "assets/ai-plugin.json")
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	base := m.BaseURL(host)
	out := bytes.ReplaceAll(raw, []byte(Placeholder), []byte(base))
	if !gjson.ValidBytes(out) {
		return nil, fmt.Errorf("%w: ai-plugin.json is not valid JSON", ErrInvalid)
	}
	if !gjson.GetBytes(out, "api.url").Exists() {
		if out, err = sjson.SetBytes(out, "api.url", base+"/openapi.yaml"); err != nil {
			return nil, err
		}
	}
	if m.opts.BearerAuth {
		if out, err = sjson.SetRawBytes(out, "auth", []byte(`{"type":"user_http","authorization_type":"bearer"}`)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// OpenAPIYAML returns the OpenAPI document as YAML for host.
func (m *Manifest) OpenAPIYAML(host string) ([]byte, error) {
	raw, err := load(m.opts.OpenAPIPath, "assets/openapi.yaml")
	if err != nil {
		return nil, fmt.Errorf("read openapi: %w", err)
	}
	return bytes.ReplaceAll(raw, []byte(Placeholder), []byte(m.BaseURL(host))), nil
}

// OpenAPIJSON converts the YAML document to JSON and makes sure the first
// server entry points at host.
func (m *Manifest) OpenAPIJSON(host string) ([]byte, error) {
	y, err := m.OpenAPIYAML(host)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := yaml.Unmarshal(y, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !gjson.GetBytes(out, "servers.0.url").Exists() {
		if out, err = sjson.SetBytes(out, "servers.0.url", m.BaseURL(host)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Manifest) Logo() ([]byte, error) {
	return load(m.opts.LogoPath, "assets/logo.png")
}
