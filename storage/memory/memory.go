// Package memory provides an in-memory implementation of the coconut.Storage interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

// Storage implements coconut.Storage using in-memory maps
type Storage struct {
	mu     sync.RWMutex
	images map[coconut.RecipeID]coconut.ImageAsset
	meta   map[coconut.RecipeID]coconut.Meta
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		images: make(map[coconut.RecipeID]coconut.ImageAsset),
		meta:   make(map[coconut.RecipeID]coconut.Meta),
	}
}

// GetImage implements coconut.Storage
func (s *Storage) GetImage(ctx context.Context, id coconut.RecipeID) (coconut.ImageAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.images[id]
	if !ok {
		return "", coconut.ErrNotFound
	}
	return asset, nil
}

// SaveImage implements coconut.Storage
func (s *Storage) SaveImage(ctx context.Context, id coconut.RecipeID, asset coconut.ImageAsset) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("recipe id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.images[id]; exists {
		return false, nil
	}
	s.images[id] = asset
	return true, nil
}

// GetMeta implements coconut.Storage
func (s *Storage) GetMeta(ctx context.Context, id coconut.RecipeID) (*coconut.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.meta[id]
	if !ok {
		return nil, coconut.ErrNotFound
	}
	// Return a copy to prevent external mutations
	return &meta, nil
}

// SaveMeta implements coconut.Storage
func (s *Storage) SaveMeta(ctx context.Context, id coconut.RecipeID, meta *coconut.Meta) (bool, error) {
	if id == "" || meta == nil {
		return false, fmt.Errorf("invalid metadata record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.meta[id]; exists {
		return false, nil
	}
	s.meta[id] = *meta
	return true, nil
}

// Len returns the number of entries in a namespace.
func (s *Storage) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch namespace {
	case coconut.NamespaceImages:
		return len(s.images)
	case coconut.NamespaceMeta:
		return len(s.meta)
	default:
		return 0
	}
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.images = make(map[coconut.RecipeID]coconut.ImageAsset)
	s.meta = make(map[coconut.RecipeID]coconut.Meta)
}
