// Package session maps session ids to the project root they work in.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID          string    `json:"session_id"`
	ProjectRoot string    `json:"project_root"`
	CreatedAt   time.Time `json:"created_at"`
}

// Directory resolves a session id. Implementations return ErrNotFound
// (possibly wrapped) for unknown ids.
type Directory interface {
	Lookup(ctx context.Context, id string) (Session, error)
}

// StaticDirectory is an in-memory Directory.
type StaticDirectory struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewStaticDirectory builds a directory from id -> project root pairs.
func NewStaticDirectory(roots map[string]string) *StaticDirectory {
	d := &StaticDirectory{sessions: make(map[string]Session, len(roots))}
	now := time.Now()
	for id, root := range roots {
		d.sessions[id] = Session{ID: id, ProjectRoot: root, CreatedAt: now}
	}
	return d
}

func (d *StaticDirectory) Lookup(_ context.Context, id string) (Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

func (d *StaticDirectory) Register(_ context.Context, id, projectRoot string) error {
	if id == "" || projectRoot == "" {
		return errors.New("session id and project root are required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[id] = Session{ID: id, ProjectRoot: projectRoot, CreatedAt: time.Now()}
	return nil
}

func (d *StaticDirectory) Remove(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(d.sessions, id)
	return nil
}
