package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/louisbranch/sportchef/internal/platform/encoding"
	apperrors "github.com/louisbranch/sportchef/internal/platform/errors"
	"github.com/louisbranch/sportchef/internal/services/records/domain/command"
)

// Command type suffixes.
const (
	actionCreate = "create"
	actionUpdate = "update"
	actionDelete = "delete"
)

// Manager is the reducer for one record type. It satisfies
// engine.Manager[*State[T]].
type Manager[T any] struct {
	schema Schema[T]
}

// NewManager validates schema and returns its reducer.
func NewManager[T any](schema Schema[T]) (*Manager[T], error) {
	schema.Name = strings.TrimSpace(schema.Name)
	switch {
	case schema.Name == "":
		return nil, errors.New("schema name is required")
	case schema.ID == nil:
		return nil, errors.New("schema id accessor is required")
	case schema.SetID == nil:
		return nil, errors.New("schema id setter is required")
	}
	if schema.Key != nil && strings.TrimSpace(schema.ConflictMessage) == "" {
		schema.ConflictMessage = schema.Name + " key has to be unique"
	}
	return &Manager[T]{schema: schema}, nil
}

// Name returns the record type name.
func (m *Manager[T]) Name() string {
	return m.schema.Name
}

// CreateType is the command type that creates a record.
func (m *Manager[T]) CreateType() command.Type {
	return command.Type(m.schema.Name + "." + actionCreate)
}

// UpdateType is the command type that replaces a record.
func (m *Manager[T]) UpdateType() command.Type {
	return command.Type(m.schema.Name + "." + actionUpdate)
}

// DeleteType is the command type that removes a record.
func (m *Manager[T]) DeleteType() command.Type {
	return command.Type(m.schema.Name + "." + actionDelete)
}

// Register adds this manager's command definitions to registry.
func (m *Manager[T]) Register(registry *command.Registry) error {
	definitions := []command.Definition{
		{Type: m.CreateType(), Target: command.TargetNew, ValidatePayload: m.validatePayload},
		{Type: m.UpdateType(), Target: command.TargetExisting, ValidatePayload: m.validatePayload},
		{Type: m.DeleteType(), Target: command.TargetExisting},
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Type, err)
		}
	}
	return nil
}

func (m *Manager[T]) validatePayload(raw json.RawMessage) error {
	record, err := m.decode(raw)
	if err != nil {
		return err
	}
	if m.schema.Validate != nil {
		if err := m.schema.Validate(record); err != nil {
			if apperrors.GetCode(err) == apperrors.CodeInvalidArgument {
				return err
			}
			return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid "+m.schema.Name, err)
		}
	}
	return nil
}

// NewState returns an empty table.
func (m *Manager[T]) NewState() *State[T] {
	return NewState[T]()
}

type change[T any] struct {
	action string
	id     uint64
	record T
	key    string
	oldKey string
}

// Decide checks cmd against state without mutating it.
func (m *Manager[T]) Decide(state *State[T], cmd command.Command) error {
	_, err := m.plan(state, cmd)
	return err
}

// Apply mutates state for cmd. Create and update return the stored record;
// delete returns nil.
func (m *Manager[T]) Apply(state *State[T], cmd command.Command) (any, error) {
	c, err := m.plan(state, cmd)
	if err != nil {
		return nil, err
	}

	switch c.action {
	case actionCreate:
		state.Records[c.id] = c.record
		if c.key != "" {
			state.Keys[c.key] = c.id
		}
		state.NextID = c.id + 1
		return c.record, nil
	case actionUpdate:
		if c.oldKey != c.key {
			if c.oldKey != "" {
				delete(state.Keys, c.oldKey)
			}
			if c.key != "" {
				state.Keys[c.key] = c.id
			}
		}
		state.Records[c.id] = c.record
		return c.record, nil
	default:
		delete(state.Records, c.id)
		if c.oldKey != "" {
			delete(state.Keys, c.oldKey)
		}
		return nil, nil
	}
}

func (m *Manager[T]) plan(state *State[T], cmd command.Command) (change[T], error) {
	if state == nil {
		return change[T]{}, errors.New("state is required")
	}
	action, ok := strings.CutPrefix(string(cmd.Type), m.schema.Name+".")
	if !ok {
		return change[T]{}, apperrors.Newf(apperrors.CodeInvalidArgument, "command %s does not belong to %s", cmd.Type, m.schema.Name)
	}

	switch action {
	case actionCreate:
		record, err := m.decode(cmd.PayloadJSON)
		if err != nil {
			return change[T]{}, err
		}
		id := state.NextID
		m.schema.SetID(&record, id)
		key := m.key(record)
		if key != "" {
			if _, taken := state.Keys[key]; taken {
				return change[T]{}, m.conflict(key)
			}
		}
		return change[T]{action: action, id: id, record: record, key: key}, nil

	case actionUpdate:
		current, exists := state.Records[cmd.EntityID]
		if !exists {
			return change[T]{}, m.notFound(cmd.EntityID)
		}
		record, err := m.decode(cmd.PayloadJSON)
		if err != nil {
			return change[T]{}, err
		}
		m.schema.SetID(&record, cmd.EntityID)
		oldKey := m.key(current)
		key := m.key(record)
		if key != oldKey && key != "" {
			if owner, taken := state.Keys[key]; taken && owner != cmd.EntityID {
				return change[T]{}, m.conflict(key)
			}
		}
		return change[T]{action: action, id: cmd.EntityID, record: record, key: key, oldKey: oldKey}, nil

	case actionDelete:
		current, exists := state.Records[cmd.EntityID]
		if !exists {
			return change[T]{}, m.notFound(cmd.EntityID)
		}
		return change[T]{action: action, id: cmd.EntityID, oldKey: m.key(current)}, nil

	default:
		return change[T]{}, apperrors.Newf(apperrors.CodeInvalidArgument, "unknown %s command %q", m.schema.Name, action)
	}
}

func (m *Manager[T]) decode(raw []byte) (T, error) {
	var record T
	if len(raw) == 0 {
		return record, apperrors.Newf(apperrors.CodeInvalidArgument, "%s payload is required", m.schema.Name)
	}
	if err := encoding.Unmarshal(raw, &record); err != nil {
		return record, apperrors.Wrap(apperrors.CodeInvalidArgument, "decode "+m.schema.Name+" payload", err)
	}
	return record, nil
}

func (m *Manager[T]) key(record T) string {
	if m.schema.Key == nil {
		return ""
	}
	return NormalizeKey(m.schema.Key(record))
}

func (m *Manager[T]) conflict(key string) error {
	return apperrors.WithMetadata(apperrors.CodeConflict, m.schema.ConflictMessage, map[string]string{
		"entity": m.schema.Name,
		"key":    key,
	})
}

func (m *Manager[T]) notFound(id uint64) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound, fmt.Sprintf("%s %d not found", m.schema.Name, id), map[string]string{
		"entity": m.schema.Name,
		"id":     strconv.FormatUint(id, 10),
	})
}

type stateDocument[T any] struct {
	NextID  uint64 `json:"next_id"`
	Records []T    `json:"records"`
}

// MarshalState encodes state with records in id order so equal states encode
// to equal bytes.
func (m *Manager[T]) MarshalState(state *State[T]) ([]byte, error) {
	if state == nil {
		return nil, errors.New("state is required")
	}
	data, err := encoding.Marshal(stateDocument[T]{NextID: state.NextID, Records: state.All()})
	if err != nil {
		return nil, fmt.Errorf("encode %s state: %w", m.schema.Name, err)
	}
	return data, nil
}

// UnmarshalState decodes a snapshot and rebuilds the key index, rejecting
// documents that break id or key invariants.
func (m *Manager[T]) UnmarshalState(data []byte) (*State[T], error) {
	var doc stateDocument[T]
	if err := encoding.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s state: %w", m.schema.Name, err)
	}
	if doc.NextID == 0 {
		return nil, fmt.Errorf("decode %s state: next id must be positive", m.schema.Name)
	}

	state := NewState[T]()
	state.NextID = doc.NextID
	for _, record := range doc.Records {
		id := m.schema.ID(record)
		if id == 0 || id >= doc.NextID {
			return nil, fmt.Errorf("decode %s state: id %d outside [1, %d)", m.schema.Name, id, doc.NextID)
		}
		if _, dup := state.Records[id]; dup {
			return nil, fmt.Errorf("decode %s state: duplicate id %d", m.schema.Name, id)
		}
		state.Records[id] = record
		if key := m.key(record); key != "" {
			if owner, dup := state.Keys[key]; dup {
				return nil, fmt.Errorf("decode %s state: key %q held by %d and %d", m.schema.Name, key, owner, id)
			}
			state.Keys[key] = id
		}
	}
	return state, nil
}
