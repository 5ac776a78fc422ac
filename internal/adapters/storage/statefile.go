package storage

// statefile.go — persistencia del mapa de instancias en un documento JSON.
//
// Estrategia:
//   - Escritura atómica: tmp + rename, nunca se trunca el fichero bueno.
//   - Antes de sobreescribir, el fichero anterior se copia a backups/ con
//     timestamp y se poda a los maxBackups más recientes.
//   - El documento lleva versión para migraciones futuras.

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

const (
	stateVersion     = 1
	maxBackups       = 10
	backupTimeLayout = "20060102T150405.000000000"
)

// stateDocument es el formato en disco.
type stateDocument struct {
	Version   int                                 `json:"version"`
	SavedAt   time.Time                           `json:"saved_at"`
	Instances map[string]*domain.StrategyInstance `json:"instances"`
}

// StateFile implementa ports.StateStore sobre un fichero JSON con backups.
type StateFile struct {
	path       string
	backupsDir string
	mu         sync.Mutex
}

// NewStateFile prepara los directorios y devuelve el store.
func NewStateFile(path, backupsDir string) (*StateFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage.NewStateFile: mkdir %q: %w", filepath.Dir(path), err)
	}
	if err := os.MkdirAll(backupsDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage.NewStateFile: mkdir %q: %w", backupsDir, err)
	}
	return &StateFile{path: path, backupsDir: backupsDir}, nil
}

// Save serializa el mapa completo. Deja backup del fichero anterior y poda
// a los 10 más recientes.
func (s *StateFile) Save(ctx context.Context, instances map[string]*domain.StrategyInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := stateDocument{
		Version:   stateVersion,
		SavedAt:   time.Now().UTC(),
		Instances: instances,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("storage.Save: marshal: %w", err)
	}

	if err := s.backupCurrent(); err != nil {
		return fmt.Errorf("storage.Save: backup: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage.Save: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("storage.Save: rename: %w", err)
	}

	s.pruneBackups()
	return nil
}

// Load lee el mapa de instancias. Fichero inexistente = mapa vacío.
func (s *StateFile) Load(ctx context.Context) (map[string]*domain.StrategyInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*domain.StrategyInstance{}, nil
		}
		return nil, fmt.Errorf("storage.Load: read %q: %w", s.path, err)
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("storage.Load: parse %q: %w", s.path, err)
	}
	if doc.Instances == nil {
		doc.Instances = map[string]*domain.StrategyInstance{}
	}
	return doc.Instances, nil
}

// backupCurrent copia el fichero actual (si existe) a backups/ con timestamp.
func (s *StateFile) backupCurrent() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // primera escritura, nada que respaldar
		}
		return err
	}

	name := fmt.Sprintf("state-%s.json", time.Now().UTC().Format(backupTimeLayout))
	return os.WriteFile(filepath.Join(s.backupsDir, name), data, 0o644)
}

// pruneBackups elimina los backups más antiguos dejando maxBackups.
// Un fallo aquí solo se ignora: el estado nuevo ya está a salvo.
func (s *StateFile) pruneBackups() {
	entries, err := os.ReadDir(s.backupsDir)
	if err != nil {
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) <= maxBackups {
		return
	}

	// el timestamp en el nombre ordena cronológicamente
	sort.Strings(names)
	for _, name := range names[:len(names)-maxBackups] {
		os.Remove(filepath.Join(s.backupsDir, name))
	}
}
