package builder

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/simon020286/nightly/config"
	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/models"
)

// WorkflowRegistry maintains all loaded workflow definitions
type WorkflowRegistry struct {
	mu        sync.RWMutex
	workflows map[string]*config.WorkflowConfig
}

// NewWorkflowRegistry creates a new registry
func NewWorkflowRegistry() *WorkflowRegistry {
	return &WorkflowRegistry{
		workflows: make(map[string]*config.WorkflowConfig),
	}
}

// Register validates and registers a workflow. A later workflow with the same name replaces the earlier one.
func (wr *WorkflowRegistry) Register(wf *config.WorkflowConfig) error {
	if err := CheckWorkflow(wf); err != nil {
		return err
	}
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.workflows[wf.Name] = wf
	return nil
}

// Get returns a workflow by name
func (wr *WorkflowRegistry) Get(name string) (*config.WorkflowConfig, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()
	wf, exists := wr.workflows[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", models.ErrWorkflowNotFound, name)
	}
	return wf, nil
}

// List returns all registered workflow names, sorted
func (wr *WorkflowRegistry) List() []string {
	wr.mu.RLock()
	defer wr.mu.RUnlock()
	names := make([]string, 0, len(wr.workflows))
	for name := range wr.workflows {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count returns the number of registered workflows
func (wr *WorkflowRegistry) Count() int {
	wr.mu.RLock()
	defer wr.mu.RUnlock()
	return len(wr.workflows)
}

// LoadFromEmbed loads workflows from an embed.FS
func (wr *WorkflowRegistry) LoadFromEmbed(embedFS embed.FS, basePath string) error {
	entries, err := fs.ReadDir(embedFS, basePath)
	if err != nil {
		return fmt.Errorf("failed to read embedded workflows directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}

		filePath := path.Join(basePath, entry.Name())
		data, err := fs.ReadFile(embedFS, filePath)
		if err != nil {
			return fmt.Errorf("failed to read embedded file %s: %w", filePath, err)
		}

		wf, err := config.ParseWorkflow(data, stem(entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to load embedded workflow %s: %w", entry.Name(), err)
		}
		if err := wr.Register(wf); err != nil {
			return fmt.Errorf("failed to load embedded workflow %s: %w", entry.Name(), err)
		}
	}

	return nil
}

// LoadFromDirectory loads workflows from a filesystem directory.
// A missing directory is not an error; invalid files are logged and skipped.
func (wr *WorkflowRegistry) LoadFromDirectory(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read workflows directory %s: %w", dirPath, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}

		wf, err := config.LoadWorkflow(filepath.Join(dirPath, entry.Name()))
		if err == nil {
			err = wr.Register(wf)
		}
		if err != nil {
			logger.Warn("skipping workflow", "file", entry.Name(), "error", err)
			continue
		}
	}

	return nil
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// GetWorkflowsPath returns the directory of user workflows.
// NIGHTLY_WORKFLOWS_PATH wins over the configured directory.
func GetWorkflowsPath(configured string) string {
	if p := os.Getenv("NIGHTLY_WORKFLOWS_PATH"); p != "" {
		return p
	}
	return configured
}
