package notebook

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/notebookd/internal/reconcile"
	"github.com/google/uuid"
)

var (
	ErrCellNotFound  = errors.New("notebook: cell not found")
	ErrCellActive    = errors.New("notebook: cell already executing")
	ErrCellNotActive = errors.New("notebook: cell not executing")
)

// Cell is one editable code cell and its latest output.
type Cell struct {
	ID     string             `json:"id"`
	Code   string             `json:"code"`
	Active bool               `json:"active"`
	Output []reconcile.Record `json:"output"`
	// RunIndex is the run that produced the current output; zero before any output.
	RunIndex int `json:"run_index"`
	// Error is why the latest execution failed; empty while running or on success.
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Cell) clone() Cell {
	out := c
	out.Output = make([]reconcile.Record, len(c.Output))
	copy(out.Output, c.Output)
	return out
}

// ConnectionStatus is the lifecycle phase of the kernel connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusFailed       ConnectionStatus = "failed"
)

// ConnectionState is what the presentation layer shows about the kernel.
type ConnectionState struct {
	Status   ConnectionStatus `json:"status"`
	KernelID string           `json:"kernel_id,omitempty"`
	Error    string           `json:"error,omitempty"`
	Since    time.Time        `json:"since"`
}

// Store is the single owner of notebook state. All mutation goes through its
// methods; reads return copies.
type Store struct {
	mu    sync.RWMutex
	order []string
	cells map[string]*Cell
	conn  ConnectionState
	now   func() time.Time
}

func NewStore() *Store {
	s := &Store{
		cells: make(map[string]*Cell),
		now:   time.Now,
	}
	s.conn = ConnectionState{Status: StatusDisconnected, Since: s.now()}
	return s
}

// AddCell appends a new cell holding code and returns it.
func (s *Store) AddCell(code string) Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	cell := &Cell{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Code:      code,
		Output:    []reconcile.Record{},
		UpdatedAt: s.now(),
	}
	s.cells[cell.ID] = cell
	s.order = append(s.order, cell.ID)
	return cell.clone()
}

// Cells returns every cell in creation order.
func (s *Store) Cells() []Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Cell, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.cells[id].clone())
	}
	return out
}

func (s *Store) Cell(id string) (Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell, err := s.lookup(id)
	if err != nil {
		return Cell{}, err
	}
	return cell.clone(), nil
}

// BeginExecution marks the cell active and clears its previous output.
func (s *Store) BeginExecution(id string) (Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cell, err := s.lookup(id)
	if err != nil {
		return Cell{}, err
	}
	if cell.Active {
		return Cell{}, fmt.Errorf("%w: %s", ErrCellActive, cell.ID)
	}
	cell.Active = true
	cell.Output = []reconcile.Record{}
	cell.RunIndex = 0
	cell.Error = ""
	cell.UpdatedAt = s.now()
	return cell.clone(), nil
}

// AppendOutput appends rec verbatim to the cell's output.
func (s *Store) AppendOutput(id string, rec reconcile.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cell, err := s.lookup(id)
	if err != nil {
		return err
	}
	cell.Output = append(cell.Output, rec)
	cell.RunIndex = rec.RunIndex
	cell.UpdatedAt = s.now()
	return nil
}

// EndExecution clears the activity flag.
func (s *Store) EndExecution(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cell, err := s.lookup(id)
	if err != nil {
		return err
	}
	if !cell.Active {
		return fmt.Errorf("%w: %s", ErrCellNotActive, cell.ID)
	}
	cell.Active = false
	cell.UpdatedAt = s.now()
	return nil
}

// ExecutionFailed records why the cell's latest execution failed. Output
// received before the failure is kept.
func (s *Store) ExecutionFailed(id, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "execution failed"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cell, err := s.lookup(id)
	if err != nil {
		return err
	}
	cell.Error = message
	cell.UpdatedAt = s.now()
	return nil
}

// UpdateCode replaces the cell's source. An in-flight execution is not affected.
func (s *Store) UpdateCode(id, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cell, err := s.lookup(id)
	if err != nil {
		return err
	}
	cell.Code = code
	cell.UpdatedAt = s.now()
	return nil
}

func (s *Store) ConnectionStarted() {
	s.setConnection(ConnectionState{Status: StatusConnecting})
}

func (s *Store) ConnectionSucceeded(kernelID string) {
	s.setConnection(ConnectionState{Status: StatusConnected, KernelID: kernelID})
}

// ConnectionFailed records a human-readable reason for the presentation layer.
func (s *Store) ConnectionFailed(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "kernel connection failed"
	}
	s.setConnection(ConnectionState{Status: StatusFailed, Error: message})
}

func (s *Store) ConnectionLost(message string) {
	s.setConnection(ConnectionState{Status: StatusDisconnected, Error: strings.TrimSpace(message)})
}

func (s *Store) Connection() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

func (s *Store) setConnection(state ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.Since = s.now()
	s.conn = state
}

func (s *Store) lookup(id string) (*Cell, error) {
	cell, ok := s.cells[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCellNotFound, id)
	}
	return cell, nil
}
