package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wallbox-bridge/internal/model"
	"wallbox-bridge/internal/parse"
)

// Store defines the state tree operations: declared objects, their current
// values and change notification.
type Store interface {
	EnsureObjects(ctx context.Context, objects []model.StateObject) error
	SetState(ctx context.Context, path string, value any, ack bool) error
	State(ctx context.Context, path string) (State, error)
	States(ctx context.Context, prefix string) ([]State, error)
	Object(ctx context.Context, path string) (model.StateObject, error)
	Objects(ctx context.Context) ([]model.StateObject, error)
	Subscribe(handler func(Change))
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db  *gorm.DB
	now func() time.Time

	mu       sync.RWMutex
	handlers []func(Change)
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db, now: time.Now}
}

// DB exposes the underlying connection for subscription management.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// EnsureObjects creates the given declarations. Existing paths are left as
// they are, so calling it again never touches current values.
func (s *gormStore) EnsureObjects(ctx context.Context, objects []model.StateObject) error {
	if len(objects) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoNothing: true,
	}).Create(&objects).Error; err != nil {
		return fmt.Errorf("failed to create state objects: %w", err)
	}
	return nil
}

// SetState stores a value. Unacknowledged writes are external requests: they
// are only accepted on writable states and are converted to the declared type.
func (s *gormStore) SetState(ctx context.Context, path string, value any, ack bool) error {
	obj, err := s.Object(ctx, path)
	if err != nil {
		return err
	}

	if !ack {
		if !obj.Write {
			return fmt.Errorf("%s: %w", path, ErrNotWritable)
		}
		value, err = parse.Coerce(obj.Type, value)
		if err != nil {
			return &InvalidValueError{Path: path, Err: err}
		}
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return &InvalidValueError{Path: path, Err: err}
	}

	change := Change{Path: path, Value: value, Ack: ack, RequestID: RequestID(ctx)}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var previous model.StateValue
		err := tx.Where("path = ?", path).Take(&previous).Error
		switch {
		case err == nil:
			change.HadPrevious = true
			change.Previous = decodeValue(previous.Value)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to read previous value of %s: %w", path, err)
		}

		row := model.StateValue{
			Path:      path,
			Value:     string(encoded),
			Ack:       ack,
			UpdatedAt: s.now(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "ack", "updated_at"}),
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", path, err)
	}

	s.notify(change)
	return nil
}

// State returns the current value of one path.
func (s *gormStore) State(ctx context.Context, path string) (State, error) {
	var row model.StateValue
	err := s.db.WithContext(ctx).Where("path = ?", path).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if _, objErr := s.Object(ctx, path); objErr != nil {
			return State{}, objErr
		}
		return State{}, fmt.Errorf("%s: %w", path, ErrNoValue)
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return toState(row), nil
}

// States returns the current values below prefix, ordered by path. An empty
// prefix returns every value.
func (s *gormStore) States(ctx context.Context, prefix string) ([]State, error) {
	query := s.db.WithContext(ctx).Order("path")
	if prefix = strings.Trim(prefix, "."); prefix != "" {
		query = query.Where(`path = ? OR path LIKE ? ESCAPE '\'`, prefix, escapeLike(prefix)+".%")
	}

	var rows []model.StateValue
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}

	states := make([]State, 0, len(rows))
	for _, row := range rows {
		states = append(states, toState(row))
	}
	return states, nil
}

// Object returns the declaration of path.
func (s *gormStore) Object(ctx context.Context, path string) (model.StateObject, error) {
	var obj model.StateObject
	err := s.db.WithContext(ctx).Where("path = ?", path).Take(&obj).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.StateObject{}, fmt.Errorf("%s: %w", path, ErrUnknownPath)
	}
	if err != nil {
		return model.StateObject{}, fmt.Errorf("failed to read object %s: %w", path, err)
	}
	return obj, nil
}

// Objects returns every declaration ordered by path.
func (s *gormStore) Objects(ctx context.Context) ([]model.StateObject, error) {
	var objects []model.StateObject
	if err := s.db.WithContext(ctx).Order("path").Find(&objects).Error; err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return objects, nil
}

// Subscribe registers a handler that is called after every committed write.
// Handlers run on the writer's goroutine and must not block.
func (s *gormStore) Subscribe(handler func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

func (s *gormStore) notify(change Change) {
	s.mu.RLock()
	handlers := make([]func(Change), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, h := range handlers {
		h(change)
	}
}

func toState(row model.StateValue) State {
	return State{
		Path:      row.Path,
		Value:     decodeValue(row.Value),
		Ack:       row.Ack,
		UpdatedAt: row.UpdatedAt,
	}
}

func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
