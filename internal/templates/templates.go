// Package templates loads canonical record templates (the container
// template and seed blueprints) from YAML files and syncs them into the
// record store as ownerless template records.
package templates

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/veldrane/eidolon/internal/apperr"
	"github.com/veldrane/eidolon/internal/models"
	"github.com/veldrane/eidolon/internal/store"
)

// Definition is one template file: a named record blueprint that becomes an
// ownerless record in the store.
type Definition struct {
	Name  string         `yaml:"name"`
	Kind  string         `yaml:"kind"`
	Image string         `yaml:"image"`
	Flags map[string]any `yaml:"flags"`
}

// Validate validates a template definition.
func (d *Definition) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Name, validation.Required),
	)
}

// Load reads every .yaml/.yml file in dir, one definition per file.
func Load(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("templates: read dir: %w", err)
	}

	var defs []Definition
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("templates: read %s: %w", e.Name(), err)
		}
		var d Definition
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("templates: parse %s: %w", e.Name(), err)
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("templates: %s: %w", e.Name(), err)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// Sync brings the store's template records up to date with the directory:
// new definitions are created, existing ones refreshed in place. Records are
// matched by name; nothing is deleted, since a removed file may still back
// live containers.
func Sync(st store.Store, dir string, logger *slog.Logger) error {
	defs, err := Load(dir)
	if err != nil {
		return err
	}

	for _, d := range defs {
		existing, err := st.FindTemplate(d.Name)
		switch {
		case err == nil:
			existing.Kind = kindOrDefault(d.Kind)
			existing.Meta.Image = d.Image
			existing.Meta.Extra = d.Flags
			if err := st.UpdateRecord(existing); err != nil {
				logger.Warn("templates: refresh failed",
					slog.String("name", d.Name), slog.String("error", err.Error()))
				continue
			}
			logger.Debug("templates: refreshed", slog.String("name", d.Name))

		case errors.Is(err, apperr.ErrNotFound):
			record := &models.Record{
				ID:   uuid.NewString(),
				Name: d.Name,
				Kind: kindOrDefault(d.Kind),
				Meta: models.Metadata{Image: d.Image, Extra: d.Flags},
			}
			if err := st.CreateRecord(record); err != nil {
				logger.Warn("templates: create failed",
					slog.String("name", d.Name), slog.String("error", err.Error()))
				continue
			}
			logger.Debug("templates: created", slog.String("name", d.Name))

		default:
			logger.Warn("templates: lookup failed",
				slog.String("name", d.Name), slog.String("error", err.Error()))
		}
	}
	return nil
}

func kindOrDefault(kind string) string {
	if kind == "" {
		return models.KindContainer
	}
	return kind
}
