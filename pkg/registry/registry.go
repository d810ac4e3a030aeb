// Package registry resolves state resources to action factories.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"
	"sync"

	"github.com/elena-cav/stepflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrActionNotRegistered = errors.New("action not registered")
	ErrInvalidParameters   = errors.New("invalid action parameters")
	ErrInvalidPlugin       = errors.New("invalid plugin")
)

type Registry struct {
	logger          *slog.Logger
	mu              sync.RWMutex
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log.With("module", "registry"),
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actionFactories[actionFactory.ID()] = actionFactory
}

// HasAction reports whether a factory is registered for the resource id.
func (r *Registry) HasAction(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.actionFactories[id]

	return ok
}

// Actions returns the registered factories ordered by id.
func (r *Registry) Actions() []protocol.ActionFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factories := make([]protocol.ActionFactory, 0, len(r.actionFactories))
	for _, factory := range r.actionFactories {
		factories = append(factories, factory)
	}

	sort.Slice(factories, func(i, j int) bool {
		return factories[i].ID() < factories[j].ID()
	})

	return factories
}

// ValidateParameters checks config against the factory's JSON schema.
func (r *Registry) ValidateParameters(id string, config map[string]any) error {
	factory, err := r.factory(id)
	if err != nil {
		return err
	}

	return validateSchema(factory.Schema(), config)
}

// CreateAction validates config and builds the action for a resource id.
func (r *Registry) CreateAction(ctx context.Context, id string, config map[string]any) (protocol.Action, error) {
	factory, err := r.factory(id)
	if err != nil {
		return nil, err
	}

	err = validateSchema(factory.Schema(), config)
	if err != nil {
		return nil, err
	}

	return factory.Create(ctx, config)
}

func (r *Registry) factory(id string) (protocol.ActionFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.actionFactories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrActionNotRegistered, id)
	}

	return factory, nil
}

func validateSchema(schema map[string]any, config map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("failed to validate parameters: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			messages = append(messages, resultError.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(messages, "; "))
	}

	return nil
}

// LoadActionPlugins opens every shared object under <pluginsPath>/actions and
// registers the exported "Action" factory symbol.
func (r *Registry) LoadActionPlugins(pluginsPath string) error {
	rootPath := filepath.Join(pluginsPath, "actions")

	if _, err := os.Stat(rootPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	var paths []string

	err := filepath.WalkDir(rootPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.IsDir() && strings.HasSuffix(path, ".so") {
			paths = append(paths, path)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan plugins in %s: %w", rootPath, err)
	}

	logger := r.logger.With("path", rootPath)
	logger.Info("Loading action plugins", "count", len(paths))

	for _, path := range paths {
		plg, err := plugin.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open plugin %s: %w", path, err)
		}

		symbol, err := plg.Lookup("Action")
		if err != nil {
			return fmt.Errorf("%w %s: %w", ErrInvalidPlugin, path, err)
		}

		factory, ok := symbol.(protocol.ActionFactory)
		if !ok {
			if pointer, isPointer := symbol.(*protocol.ActionFactory); isPointer {
				factory = *pointer
			} else {
				return fmt.Errorf("%w %s: Action does not implement ActionFactory", ErrInvalidPlugin, path)
			}
		}

		r.RegisterAction(factory)
		logger.Info("Loaded action plugin", "plugin", path, "action", factory.ID())
	}

	return nil
}
