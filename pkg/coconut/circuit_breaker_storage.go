package coconut

import "context"

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
// While the circuit is open every call fails fast with ErrCircuitOpen, which the
// AssetCache absorbs as a miss or a skipped write.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) *CircuitBreakerStorage {
	return &CircuitBreakerStorage{
		storage: storage,
		cb:      cb,
	}
}

func (s *CircuitBreakerStorage) GetImage(ctx context.Context, id RecipeID) (ImageAsset, error) {
	var asset ImageAsset
	err := s.cb.Execute(ctx, func() error {
		var e error
		asset, e = s.storage.GetImage(ctx, id)
		return e
	})
	return asset, err
}

func (s *CircuitBreakerStorage) SaveImage(ctx context.Context, id RecipeID, asset ImageAsset) (bool, error) {
	var written bool
	err := s.cb.Execute(ctx, func() error {
		var e error
		written, e = s.storage.SaveImage(ctx, id, asset)
		return e
	})
	return written, err
}

func (s *CircuitBreakerStorage) GetMeta(ctx context.Context, id RecipeID) (*Meta, error) {
	var meta *Meta
	err := s.cb.Execute(ctx, func() error {
		var e error
		meta, e = s.storage.GetMeta(ctx, id)
		return e
	})
	return meta, err
}

func (s *CircuitBreakerStorage) SaveMeta(ctx context.Context, id RecipeID, meta *Meta) (bool, error) {
	var written bool
	err := s.cb.Execute(ctx, func() error {
		var e error
		written, e = s.storage.SaveMeta(ctx, id, meta)
		return e
	})
	return written, err
}
