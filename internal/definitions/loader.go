// Package definitions seeds workflow definitions from YAML files at startup.
package definitions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// Store is the part of the engine the loader writes through.
type Store interface {
	ListDefinitions(ctx context.Context, name string) ([]domain.WorkflowDefinition, error)
	CreateDefinition(ctx context.Context, req models.CreateDefinitionRequest) (*domain.WorkflowDefinition, error)
	ActivateDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
}

type Result struct {
	Created []string
	Skipped []string
}

// ParseDefinitionYAML decodes one definition file.
func ParseDefinitionYAML(data []byte) (models.CreateDefinitionRequest, error) {
	var req models.CreateDefinitionRequest
	if len(bytes.TrimSpace(data)) == 0 {
		return req, errors.New("definition payload is empty")
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("decode definition: %w", err)
	}
	if req.Name == "" {
		return req, errors.New("definition has no name")
	}
	return req, nil
}

// LoadDir creates every *.yaml / *.yml definition in dir whose name is not yet
// stored, activating it unless the file sets activate: false. Names that
// already exist are left alone so edits made through the API survive restarts.
// A bad file does not stop the others; all failures are returned joined.
func LoadDir(ctx context.Context, store Store, dir string) (Result, error) {
	var res Result
	entries, err := os.ReadDir(dir)
	if err != nil {
		return res, fmt.Errorf("read definitions dir %s: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	var errs []error
	for _, path := range files {
		name, created, err := loadFile(ctx, store, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
			continue
		}
		if created {
			res.Created = append(res.Created, name)
		} else {
			res.Skipped = append(res.Skipped, name)
		}
	}
	slog.InfoContext(ctx, "Definition files loaded", "dir", dir, "created", len(res.Created), "skipped", len(res.Skipped), "failed", len(errs))
	return res, errors.Join(errs...)
}

func loadFile(ctx context.Context, store Store, path string) (string, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	req, err := ParseDefinitionYAML(content)
	if err != nil {
		return "", false, err
	}
	existing, err := store.ListDefinitions(ctx, req.Name)
	if err != nil {
		return req.Name, false, err
	}
	if len(existing) > 0 {
		slog.DebugContext(ctx, "Definition already stored, skipping file", "name", req.Name, "file", path)
		return req.Name, false, nil
	}

	def, err := store.CreateDefinition(ctx, req)
	if err != nil {
		return req.Name, false, err
	}
	if req.Activate == nil || *req.Activate {
		if _, err := store.ActivateDefinition(ctx, def.ID); err != nil {
			return req.Name, true, fmt.Errorf("activate %s v%d: %w", def.Name, def.Version, err)
		}
	}
	slog.InfoContext(ctx, "Definition created from file", "name", def.Name, "version", def.Version, "file", path)
	return req.Name, true, nil
}
