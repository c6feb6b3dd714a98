// Package tiered provides a Hot/Cold tiered storage adapter that puts fast
// shared storage (Hot, e.g. Redis) in front of durable storage (Cold, e.g.
// SQLite or Postgres).
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 storage consulted first
	Hot coconut.Storage

	// Cold is the L2 persistence storage and the source of truth
	Cold coconut.Storage

	// AsyncHotFill moves hot tier writes (read repair and write-through copies)
	// to a background worker. If false, they happen inline.
	AsyncHotFill bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a hot tier fill fails.
	AsyncErrorHandler func(error)
}

// Storage implements a Hot/Cold tiered storage architecture.
// - Read-Through: Hot → Cold → populate Hot
// - Write-Through: Cold first (put-if-absent), then Hot with whatever Cold kept
type Storage struct {
	hot  coconut.Storage
	cold coconut.Storage
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ coconut.Storage = (*Storage)(nil)

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncHotFill {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncHotFill {
		s.closeOnce.Do(func() {
			close(s.shutdown)
			s.wg.Wait()
		})
	}
	return nil
}

// startWorker runs the background hot fill loop.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.report(job())
			case <-s.shutdown:
				// Drain queue on shutdown (best effort)
				for {
					select {
					case job := <-s.syncQueue:
						_ = job() //nolint:errcheck // Best effort during shutdown
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) report(err error) {
	if err != nil && s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(fmt.Errorf("tiered hot fill failed: %w", err))
	}
}

// fillHot runs job inline or hands it to the worker. A full queue drops the
// job; the next read repairs the hot tier.
func (s *Storage) fillHot(job func() error) {
	if !s.conf.AsyncHotFill {
		s.report(job())
		return
	}
	select {
	case <-s.shutdown:
	case s.syncQueue <- job:
	default:
		s.report(errors.New("sync queue full"))
	}
}

// GetImage implements coconut.Storage with read-through strategy.
func (s *Storage) GetImage(ctx context.Context, id coconut.RecipeID) (coconut.ImageAsset, error) {
	asset, err := s.hot.GetImage(ctx, id)
	if err == nil {
		return asset, nil
	}

	asset, err = s.cold.GetImage(ctx, id)
	if err != nil {
		return "", err
	}

	fillCtx := context.WithoutCancel(ctx)
	s.fillHot(func() error {
		_, err := s.hot.SaveImage(fillCtx, id, asset)
		return err
	})
	return asset, nil
}

// GetMeta implements coconut.Storage with read-through strategy.
func (s *Storage) GetMeta(ctx context.Context, id coconut.RecipeID) (*coconut.Meta, error) {
	meta, err := s.hot.GetMeta(ctx, id)
	if err == nil && meta != nil {
		return meta, nil
	}

	meta, err = s.cold.GetMeta(ctx, id)
	if err != nil {
		return nil, err
	}

	fillCtx := context.WithoutCancel(ctx)
	record := *meta
	s.fillHot(func() error {
		_, err := s.hot.SaveMeta(fillCtx, id, &record)
		return err
	})
	return meta, nil
}

// SaveImage implements coconut.Storage with write-through strategy.
// When Cold already holds an image, Hot is filled with Cold's value.
func (s *Storage) SaveImage(ctx context.Context, id coconut.RecipeID, asset coconut.ImageAsset) (bool, error) {
	written, err := s.cold.SaveImage(ctx, id, asset)
	if err != nil {
		return false, err
	}

	fillCtx := context.WithoutCancel(ctx)
	s.fillHot(func() error {
		value := asset
		if !written {
			kept, err := s.cold.GetImage(fillCtx, id)
			if err != nil {
				return err
			}
			value = kept
		}
		_, err := s.hot.SaveImage(fillCtx, id, value)
		return err
	})
	return written, nil
}

// SaveMeta implements coconut.Storage with write-through strategy.
func (s *Storage) SaveMeta(ctx context.Context, id coconut.RecipeID, meta *coconut.Meta) (bool, error) {
	written, err := s.cold.SaveMeta(ctx, id, meta)
	if err != nil {
		return false, err
	}

	fillCtx := context.WithoutCancel(ctx)
	record := *meta
	s.fillHot(func() error {
		value := &record
		if !written {
			kept, err := s.cold.GetMeta(fillCtx, id)
			if err != nil {
				return err
			}
			value = kept
		}
		_, err := s.hot.SaveMeta(fillCtx, id, value)
		return err
	})
	return written, nil
}
