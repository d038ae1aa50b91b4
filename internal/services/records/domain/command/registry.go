// Package command defines the mutation envelope handed to a record controller
// and the registry that validates it before it reaches the writer lane.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/sportchef/internal/platform/encoding"
	"github.com/louisbranch/sportchef/internal/platform/id"
)

var (
	// ErrTypeRequired indicates a missing command type.
	ErrTypeRequired = errors.New("command type is required")
	// ErrTypeUnknown indicates an unregistered command type.
	ErrTypeUnknown = errors.New("command type is not registered")
	// ErrEntityIDRequired indicates a targeted command without an entity id.
	ErrEntityIDRequired = errors.New("entity id is required")
	// ErrEntityIDForbidden indicates an entity id on a command that assigns one.
	ErrEntityIDForbidden = errors.New("entity id must be empty")
	// ErrPayloadInvalid indicates malformed payload JSON.
	ErrPayloadInvalid = errors.New("payload json must be valid")
)

// Type identifies the command type string, such as "user.create".
type Type string

// Target declares whether a command addresses an existing entity.
type Target string

const (
	// TargetNew marks commands that create an entity and receive its id.
	TargetNew Target = "new"
	// TargetExisting marks commands that address an entity by id.
	TargetExisting Target = "existing"
)

// Command is a serializable description of a single mutation.
type Command struct {
	Type        Type
	EntityID    uint64
	RequestID   string
	PayloadJSON []byte
}

// Definition registers metadata for a command type.
type Definition struct {
	Type            Type
	Target          Target
	ValidatePayload PayloadValidator
}

// PayloadValidator validates a payload JSON document.
type PayloadValidator func(json.RawMessage) error

// Registry stores command definitions and validates commands.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// Register adds a new command type definition to the registry.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return ErrTypeRequired
	}
	switch def.Target {
	case TargetNew, TargetExisting:
	default:
		return fmt.Errorf("target must be new or existing")
	}
	if r.definitions == nil {
		r.definitions = make(map[Type]Definition)
	}
	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("command type already registered: %s", def.Type)
	}
	r.definitions[def.Type] = def
	return nil
}

// Validate checks a command against its definition and returns the
// normalized form that is journaled: trimmed type, canonical payload JSON and
// a request id.
func (r *Registry) Validate(cmd Command) (Command, error) {
	if r == nil {
		return Command{}, errors.New("registry is required")
	}
	cmd.Type = Type(strings.TrimSpace(string(cmd.Type)))
	if cmd.Type == "" {
		return Command{}, ErrTypeRequired
	}
	def, ok := r.definitions[cmd.Type]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrTypeUnknown, cmd.Type)
	}

	switch def.Target {
	case TargetNew:
		if cmd.EntityID != 0 {
			return Command{}, ErrEntityIDForbidden
		}
	case TargetExisting:
		if cmd.EntityID == 0 {
			return Command{}, ErrEntityIDRequired
		}
	}

	if len(cmd.PayloadJSON) == 0 {
		cmd.PayloadJSON = []byte("{}")
	}
	if !encoding.Valid(cmd.PayloadJSON) {
		return Command{}, ErrPayloadInvalid
	}
	canonical, err := encoding.CanonicalJSON(cmd.PayloadJSON)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	cmd.PayloadJSON = canonical

	if def.ValidatePayload != nil {
		if err := def.ValidatePayload(json.RawMessage(cmd.PayloadJSON)); err != nil {
			return Command{}, err
		}
	}

	cmd.RequestID = strings.TrimSpace(cmd.RequestID)
	if cmd.RequestID == "" {
		cmd.RequestID = id.NewRequestID()
	}
	return cmd, nil
}

// Definition returns the definition registered for a command type.
func (r *Registry) Definition(t Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.definitions[t]
	return def, ok
}

// Types returns the registered command types in sorted order.
func (r *Registry) Types() []Type {
	if r == nil {
		return nil
	}
	types := make([]Type, 0, len(r.definitions))
	for t := range r.definitions {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
