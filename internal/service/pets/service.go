// Package pets holds the in-memory pets cache and the undoable pet deletion.
//
// A deletion is only armed in memory: Close (or a process restart) during the
// undo window drops it and the pet is kept.
package pets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/pawtrack/backend/internal/logging"
	"github.com/zhouzirui/pawtrack/backend/internal/model/pet"
	"github.com/zhouzirui/pawtrack/backend/internal/repository"
	"github.com/zhouzirui/pawtrack/backend/internal/service/notify"
)

// DefaultUndoWindow is how long a scheduled deletion can be undone.
const DefaultUndoWindow = 10 * time.Second

const deleteTimeout = 30 * time.Second

var (
	ErrPetNotFound   = errors.New("pet not found")
	ErrDeletePending = errors.New("pet deletion already scheduled")
	ErrNothingToUndo = errors.New("no pending deletion for pet")
	ErrServiceClosed = errors.New("pets service closed")
)

// Repository is the pets collection.
type Repository interface {
	Add(ctx context.Context, p pet.Pet) (pet.Pet, error)
	Update(ctx context.Context, id string, p pet.Pet) (pet.Pet, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (pet.Pet, error)
	List(ctx context.Context) ([]pet.Pet, error)
}

// Service caches the pets list and mediates every write to it.
type Service struct {
	repo       Repository
	notifier   notify.Notifier
	undoWindow time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	pets    []pet.Pet
	pending map[string]*time.Timer
	closed  bool
	fires   sync.WaitGroup
}

// NewService creates the service. undoWindow <= 0 selects DefaultUndoWindow.
func NewService(repo Repository, notifier notify.Notifier, undoWindow time.Duration, logger *zap.Logger) *Service {
	if undoWindow <= 0 {
		undoWindow = DefaultUndoWindow
	}
	return &Service{
		repo:       repo,
		notifier:   notifier,
		undoWindow: undoWindow,
		logger:     logging.OrNop(logger).Named("pets"),
		pending:    make(map[string]*time.Timer),
	}
}

// UndoWindow returns how long a scheduled deletion can be undone.
func (s *Service) UndoWindow() time.Duration {
	return s.undoWindow
}

// Refresh reloads the cache from the repository.
func (s *Service) Refresh(ctx context.Context) error {
	list, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error("failed to load pets", zap.Error(err))
		s.notifier.Error("Failed to load pets")
		return fmt.Errorf("load pets: %w", err)
	}

	s.mu.Lock()
	s.pets = list
	s.mu.Unlock()
	return nil
}

// List returns a copy of the cached pets.
func (s *Service) List() []pet.Pet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pet.Pet{}, s.pets...)
}

// Get returns a cached pet.
func (s *Service) Get(id string) (pet.Pet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.pets[i], nil
	}
	return pet.Pet{}, ErrPetNotFound
}

// Add stores a new pet and appends it to the cache.
func (s *Service) Add(ctx context.Context, p pet.Pet) (pet.Pet, error) {
	if err := p.Validate(); err != nil {
		return pet.Pet{}, err
	}

	added, err := s.repo.Add(ctx, p)
	if err != nil {
		s.logger.Error("failed to add pet", zap.String("name", p.Name), zap.Error(err))
		s.notifier.Error(fmt.Sprintf("Failed to add %s", p.Name))
		return pet.Pet{}, fmt.Errorf("add pet: %w", err)
	}

	s.mu.Lock()
	s.pets = append(s.pets, added)
	s.mu.Unlock()

	s.notifier.Success(fmt.Sprintf("%s added", added.Name))
	return added, nil
}

// Update replaces a pet and its cache entry.
func (s *Service) Update(ctx context.Context, id string, p pet.Pet) (pet.Pet, error) {
	if err := p.Validate(); err != nil {
		return pet.Pet{}, err
	}

	updated, err := s.repo.Update(ctx, id, p)
	if errors.Is(err, repository.ErrNotFound) {
		return pet.Pet{}, ErrPetNotFound
	}
	if err != nil {
		s.logger.Error("failed to update pet", zap.String("id", id), zap.Error(err))
		s.notifier.Error(fmt.Sprintf("Failed to update %s", p.Name))
		return pet.Pet{}, fmt.Errorf("update pet: %w", err)
	}

	s.mu.Lock()
	if i := s.indexOf(id); i >= 0 {
		s.pets[i] = updated
	} else {
		s.pets = append(s.pets, updated)
	}
	s.mu.Unlock()

	s.notifier.Success(fmt.Sprintf("%s updated", updated.Name))
	return updated, nil
}

// ScheduleDelete arms the deletion of a cached pet. The backend delete runs
// once the undo window elapses unless Undo is called first; until then the
// pet stays listed.
func (s *Service) ScheduleDelete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServiceClosed
	}
	i := s.indexOf(id)
	if i < 0 {
		return ErrPetNotFound
	}
	if _, ok := s.pending[id]; ok {
		return ErrDeletePending
	}

	s.fires.Add(1)
	s.pending[id] = time.AfterFunc(s.undoWindow, func() { s.fire(id) })
	s.logger.Info("pet deletion scheduled", zap.String("id", id), zap.Duration("window", s.undoWindow))
	s.notifier.Success(fmt.Sprintf("%s will be deleted", s.pets[i].Name))
	return nil
}

// Undo cancels a scheduled deletion.
func (s *Service) Undo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.pending[id]
	if !ok {
		return ErrNothingToUndo
	}
	delete(s.pending, id)
	if timer.Stop() {
		s.fires.Done()
	}
	s.logger.Info("pet deletion undone", zap.String("id", id))
	return nil
}

// Pending reports whether a deletion is scheduled for id.
func (s *Service) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// Close cancels every scheduled deletion and waits for running ones.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	for id, timer := range s.pending {
		if timer.Stop() {
			s.fires.Done()
		}
		delete(s.pending, id)
		s.logger.Info("pending pet deletion dropped", zap.String("id", id))
	}
	s.mu.Unlock()

	s.fires.Wait()
}

func (s *Service) fire(id string) {
	defer s.fires.Done()

	s.mu.Lock()
	_, ok := s.pending[id]
	delete(s.pending, id)
	name := id
	if i := s.indexOf(id); i >= 0 {
		name = s.pets[i].Name
	}
	s.mu.Unlock()
	if !ok {
		// 撤销与计时器同时触发时，撤销优先。
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()

	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("failed to delete pet", zap.String("id", id), zap.Error(err))
		s.notifier.Error(fmt.Sprintf("Failed to delete %s", name))
		return
	}

	s.logger.Info("pet deleted", zap.String("id", id))
	s.notifier.Success(fmt.Sprintf("%s deleted", name))
	if err := s.Refresh(ctx); err != nil {
		s.mu.Lock()
		if i := s.indexOf(id); i >= 0 {
			s.pets = append(s.pets[:i], s.pets[i+1:]...)
		}
		s.mu.Unlock()
	}
}

func (s *Service) indexOf(id string) int {
	for i, p := range s.pets {
		if p.ID == id {
			return i
		}
	}
	return -1
}
