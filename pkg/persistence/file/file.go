// Package file provides file-based persistence for development and tests.
// Every entity is one JSON document under the root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kindred-org/kindred/pkg/persistence"
)

const (
	automationsDir = "automations"
	logsDir        = "automation_logs"
	onboardingDir  = "onboarding"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string

	// mu serialises every read-modify-write across repositories.
	mu sync.Mutex

	automationRepo *AutomationRepository
	logRepo        *LogRepository
	onboardingRepo *OnboardingRepository
}

// NewPersistence creates the directory layout under root (file:// prefix allowed).
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	for _, dir := range []string{automationsDir, logsDir, onboardingDir} {
		if err := os.MkdirAll(filepath.Join(cleanRoot, dir), 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	p := &Persistence{root: cleanRoot}
	p.automationRepo = &AutomationRepository{store: p}
	p.logRepo = &LogRepository{store: p}
	p.onboardingRepo = &OnboardingRepository{store: p}

	return p, nil
}

func (p *Persistence) AutomationRepository() persistence.AutomationRepository {
	return p.automationRepo
}

func (p *Persistence) LogRepository() persistence.LogRepository {
	return p.logRepo
}

func (p *Persistence) OnboardingRepository() persistence.OnboardingRepository {
	return p.onboardingRepo
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return fmt.Errorf("data directory does not exist: %s", p.root)
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) path(dir, id string) string {
	return filepath.Join(p.root, dir, id+".json")
}

// read loads one document. It returns fs.ErrNotExist when missing.
func read[T any](p *Persistence, dir, id string) (*T, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fs.ErrNotExist
	}

	data, err := os.ReadFile(p.path(dir, id)) // #nosec G304 -- path is built from the controlled root
	if err != nil {
		return nil, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s/%s: %w", dir, id, err)
	}

	return &out, nil
}

// write stores one document through a temp file and rename so readers never see partial JSON.
func write(p *Persistence, dir, id string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, id, err)
	}

	target := p.path(dir, id)

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s/%s: %w", dir, id, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close %s/%s: %w", dir, id, err)
	}

	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to set permissions on %s/%s: %w", dir, id, err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", dir, id, err)
	}

	return nil
}

// list loads every document in dir.
func list[T any](p *Persistence, dir string) ([]*T, error) {
	root := os.DirFS(filepath.Join(p.root, dir))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", dir, err)
	}

	out := make([]*T, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		item, err := read[T](p, dir, strings.TrimSuffix(name, ".json"))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, err
		}

		out = append(out, item)
	}

	return out, nil
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}
