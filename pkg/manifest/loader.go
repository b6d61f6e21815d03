package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

const logPrefix = "manifest:loader"

// EnvManifestFile names the environment variable consulted by LoadManifest.
const EnvManifestFile = "NAV_MANIFEST_FILE"

// ErrIncompatible is returned by CheckCompatible when a version falls
// outside the constraint.
var ErrIncompatible = errors.New("manifest version not compatible")

// hclManifest is the HCL file layout:
//
//	name    = "shop"
//	version = "1.2.0"
//	handler "OrderList" {
//	  path          = "/orders"
//	  requires_auth = true
//	  capabilities  = ["orders.read"]
//	  middleware    = ["audit"]
//	}
type hclManifest struct {
	Name     string        `hcl:"name,optional"`
	Version  string        `hcl:"version,optional"`
	Handlers []*hclHandler `hcl:"handler,block"`
}

type hclHandler struct {
	ID           string   `hcl:"id,label"`
	Path         string   `hcl:"path"`
	RequiresAuth bool     `hcl:"requires_auth,optional"`
	Capabilities []string `hcl:"capabilities,optional"`
	Middleware   []string `hcl:"middleware,optional"`
}

// ReadFile decodes the manifest at path. Files ending in .hcl are HCL;
// anything else is JSON.
func ReadFile(path string) (*Manifest, error) {
	var (
		m   *Manifest
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		m, err = decodeHCL(path)
	} else {
		m, err = decodeJSON(path)
	}
	if err != nil {
		return nil, err
	}
	m.Origin = path
	return m, nil
}

func decodeJSON(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s: %w", logPrefix, path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s - failed to parse %s: %w", logPrefix, path, err)
	}
	return &m, nil
}

func decodeHCL(path string) (*Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s - failed to parse HCL file %s: %w", logPrefix, path, diags)
	}

	var raw hclManifest
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("%s - failed to decode HCL file %s: %w", logPrefix, path, diags)
	}

	m := &Manifest{Name: raw.Name, Version: raw.Version, Handlers: make([]Handler, 0, len(raw.Handlers))}
	for _, h := range raw.Handlers {
		m.Handlers = append(m.Handlers, Handler{
			ID:           h.ID,
			Path:         h.Path,
			RequiresAuth: h.RequiresAuth,
			Capabilities: h.Capabilities,
			Middleware:   h.Middleware,
		})
	}
	return m, nil
}

// LoadManifest tries paths in order: the explicit paths, then
// NAV_MANIFEST_FILE, then config/routes.json and routes.json. Files that are
// missing or malformed are skipped. With no usable file the default
// manifest is returned.
func LoadManifest(paths ...string) *Manifest {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv(EnvManifestFile); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, filepath.Join("config", "routes.json"), "routes.json")

	for _, p := range all {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		m, err := ReadFile(p)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Skipping manifest %s: %v", logPrefix, p, err))
			continue
		}
		slog.Info(fmt.Sprintf("%s - Loaded manifest %s %s from %s (%d handlers)", logPrefix, m.Name, m.Version, p, len(m.Handlers)))
		return m
	}

	slog.Info(fmt.Sprintf("%s - Using default manifest", logPrefix))
	return DefaultManifest()
}

// DefaultManifest returns the empty fallback manifest.
func DefaultManifest() *Manifest {
	return &Manifest{Name: "default", Version: "0.0.0", Handlers: []Handler{}}
}

// CheckCompatible reports whether version satisfies constraint. An empty
// constraint accepts everything.
func CheckCompatible(version, constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("%s - invalid constraint %q: %w", logPrefix, constraint, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%s - invalid manifest version %q: %w", logPrefix, version, err)
	}
	if ok, errs := c.Validate(v); !ok {
		return fmt.Errorf("%w: %s does not satisfy %s: %v", ErrIncompatible, v, constraint, errors.Join(errs...))
	}
	return nil
}
