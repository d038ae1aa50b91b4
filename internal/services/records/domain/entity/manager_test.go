package entity

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/louisbranch/sportchef/internal/platform/errors"
	"github.com/louisbranch/sportchef/internal/services/records/domain/command"
)

type member struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func memberSchema() Schema[member] {
	return Schema[member]{
		Name:            "member",
		ID:              func(m member) uint64 { return m.ID },
		SetID:           func(m *member, id uint64) { m.ID = id },
		Key:             func(m member) string { return m.Email },
		ConflictMessage: "Email address has to be unique",
		Validate: func(m member) error {
			if m.Name == "" {
				return errors.New("name is required")
			}
			return nil
		},
	}
}

func newMemberManager(t *testing.T) *Manager[member] {
	t.Helper()
	manager, err := NewManager(memberSchema())
	require.NoError(t, err)
	return manager
}

func createCmd(t *testing.T, m member) command.Command {
	t.Helper()
	payload, err := json.Marshal(m)
	require.NoError(t, err)
	return command.Command{Type: "member.create", PayloadJSON: payload}
}

func updateCmd(t *testing.T, m member) command.Command {
	t.Helper()
	payload, err := json.Marshal(m)
	require.NoError(t, err)
	return command.Command{Type: "member.update", EntityID: m.ID, PayloadJSON: payload}
}

func deleteCmd(id uint64) command.Command {
	return command.Command{Type: "member.delete", EntityID: id, PayloadJSON: []byte("{}")}
}

func mustApply(t *testing.T, manager *Manager[member], state *State[member], cmd command.Command) any {
	t.Helper()
	require.NoError(t, manager.Decide(state, cmd))
	result, err := manager.Apply(state, cmd)
	require.NoError(t, err)
	return result
}

func TestNewManagerRequiresSchemaFields(t *testing.T) {
	_, err := NewManager(Schema[member]{})
	require.Error(t, err)

	schema := memberSchema()
	schema.SetID = nil
	_, err = NewManager(schema)
	require.Error(t, err)

	schema = memberSchema()
	schema.ConflictMessage = ""
	manager, err := NewManager(schema)
	require.NoError(t, err)
	require.Equal(t, "member key has to be unique", manager.schema.ConflictMessage)
}

func TestCreateAssignsIncreasingIDs(t *testing.T) {
	manager := newMemberManager(t)
	state := manager.NewState()

	first := mustApply(t, manager, state, createCmd(t, member{Name: "Ana", Email: "ana@example.com"})).(member)
	second := mustApply(t, manager, state, createCmd(t, member{ID: 77, Name: "Bo", Email: "bo@example.com"})).(member)

	require.Equal(t, uint64(1), first.ID)
	require.Equal(t, uint64(2), second.ID)
	require.Equal(t, uint64(3), state.NextID)
}

func TestCreateConflictLeavesStateUnchanged(t *testing.T) {
	manager := newMemberManager(t)
	state := manager.NewState()
	mustApply(t, manager, state, createCmd(t, member{Name: "Ana", Email: "ana@example.com"}))

	before, err := manager.MarshalState(state)
	require.NoError(t, err)

	cmd := createCmd(t, member{Name: "Other", Email: "  ANA@example.com "})
	err = manager.Decide(state, cmd)
	require.True(t, apperrors.IsConflict(err), "got %v", err)
	require.Equal(t, "Email address has to be unique", err.Error())

	_, err = manager.Apply(state, cmd)
	require.True(t, apperrors.IsConflict(err))

	after, err := manager.MarshalState(state)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func TestIDsAreNeverReused(t *testing.T) {
	manager := newMemberManager(t)
	state := manager.NewState()
	mustApply(t, manager, state, createCmd(t, member{Name: "Ana", Email: "ana@example.com"}))
	mustApply(t, manager, state, deleteCmd(1))

	again := mustApply(t, manager, state, createCmd(t, member{Name: "Ana", Email: "ana@example.com"})).(member)
	require.Equal(t, uint64(2), again.ID)
}

func TestUpdate(t *testing.T) {
	manager := newMemberManager(t)
	state := manager.NewState()
	mustApply(t, manager, state, createCmd(t, member{Name: "Ana", Email: "ana@example.com"}))
	mustApply(t, manager, state, createCmd(t, member{Name: "Bo", Email: "bo@example.com"}))

	t.Run("same key", func(t *testing.T) {
		updated := mustApply(t, manager, state, updateCmd(t, member{ID: 1, Name: "Ana Maria", Email: "ANA@example.com"})).(member)
		require.Equal(t, "Ana Maria", updated.Name)
		found, ok := state.FindByKey("ana@example.com")
		require.True(t, ok)
		require.Equal(t, uint64(1), found.ID)
	})

	t.Run("key taken by another record", func(t *testing.T) {
		err := manager.Decide(state, updateCmd(t, member{ID: 1, Name: "Ana", Email: "bo@example.com"}))
		require.True(t, apperrors.IsConflict(err), "got %v", err)
	})

	t.Run("key moved", func(t *testing.T) {
		mustApply(t, manager, state, updateCmd(t, member{ID: 2, Name: "Bo", Email: "bo@new.example.com"}))
		_, ok := state.FindByKey("bo@example.com")
		require.False(t, ok)
		found, ok := state.FindByKey("bo@new.example.com")
		require.True(t, ok)
		require.Equal(t, uint64(2), found.ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := manager.Decide(state, updateCmd(t, member{ID: 99, Name: "X", Email: "x@example.com"}))
		require.True(t, apperrors.IsNotFound(err), "got %v", err)
	})

	t.Run("entity id wins over payload id", func(t *testing.T) {
		cmd := updateCmd(t, member{ID: 5, Name: "Bo", Email: "bo@new.example.com"})
		cmd.EntityID = 2
		updated := mustApply(t, manager, state, cmd).(member)
		require.Equal(t, uint64(2), updated.ID)
	})
}

func TestDeleteTwice(t *testing.T) {
	manager := newMemberManager(t)
	state := manager.NewState()
	mustApply(t, manager, state, createCmd(t, member{Name: "Ana", Email: "ana@example.com"}))

	result := mustApply(t, manager, state, deleteCmd(1))
	require.Nil(t, result)
	_, ok := state.FindByKey("ana@example.com")
	require.False(t, ok)

	err := manager.Decide(state, deleteCmd(1))
	require.True(t, apperrors.IsNotFound(err), "got %v", err)
}

func TestAllIsCreationOrderAndNeverNil(t *testing.T) {
	manager := newMemberManager(t)
	state := manager.NewState()
	require.NotNil(t, state.All())
	require.Empty(t, state.All())

	for _, name := range []string{"a", "b", "c", "d"} {
		mustApply(t, manager, state, createCmd(t, member{Name: name, Email: name + "@example.com"}))
	}
	mustApply(t, manager, state, deleteCmd(2))

	var names []string
	for _, m := range state.All() {
		names = append(names, m.Name)
	}
	require.Equal(t, []string{"a", "c", "d"}, names)
}

func TestRejectsForeignAndUnknownCommands(t *testing.T) {
	manager := newMemberManager(t)
	state := manager.NewState()

	err := manager.Decide(state, command.Command{Type: "event.create", PayloadJSON: []byte("{}")})
	require.Equal(t, apperrors.CodeInvalidArgument, apperrors.GetCode(err))

	err = manager.Decide(state, command.Command{Type: "member.rename", PayloadJSON: []byte("{}")})
	require.Equal(t, apperrors.CodeInvalidArgument, apperrors.GetCode(err))

	err = manager.Decide(state, command.Command{Type: "member.create", PayloadJSON: []byte("[1]")})
	require.Equal(t, apperrors.CodeInvalidArgument, apperrors.GetCode(err))
}

func TestRegisterValidatesPayloads(t *testing.T) {
	manager := newMemberManager(t)
	registry := command.NewRegistry()
	require.NoError(t, manager.Register(registry))
	require.Equal(t, []command.Type{"member.create", "member.delete", "member.update"}, registry.Types())

	_, err := registry.Validate(createCmd(t, member{Email: "x@example.com"}))
	require.Equal(t, apperrors.CodeInvalidArgument, apperrors.GetCode(err))

	_, err = registry.Validate(createCmd(t, member{Name: "x", Email: "x@example.com"}))
	require.NoError(t, err)

	require.Error(t, manager.Register(registry), "second registration must fail")
}

func TestStateRoundTripIsByteIdentical(t *testing.T) {
	manager := newMemberManager(t)
	state := manager.NewState()
	for _, name := range []string{"c", "a", "b"} {
		mustApply(t, manager, state, createCmd(t, member{Name: name, Email: name + "@example.com"}))
	}
	mustApply(t, manager, state, deleteCmd(1))

	data, err := manager.MarshalState(state)
	require.NoError(t, err)

	restored, err := manager.UnmarshalState(data)
	require.NoError(t, err)
	require.Equal(t, state.NextID, restored.NextID)
	require.Equal(t, state.Keys, restored.Keys)

	again, err := manager.MarshalState(restored)
	require.NoError(t, err)
	require.Equal(t, string(data), string(again))

	next := mustApply(t, manager, restored, createCmd(t, member{Name: "d", Email: "d@example.com"})).(member)
	require.Equal(t, uint64(4), next.ID)
}

func TestUnmarshalStateRejectsBrokenInvariants(t *testing.T) {
	manager := newMemberManager(t)
	cases := map[string]string{
		"zero next id":  `{"next_id":0,"records":[]}`,
		"id past next":  `{"next_id":2,"records":[{"id":2,"name":"a","email":"a@x"}]}`,
		"duplicate id":  `{"next_id":3,"records":[{"id":1,"name":"a","email":"a@x"},{"id":1,"name":"b","email":"b@x"}]}`,
		"duplicate key": `{"next_id":3,"records":[{"id":1,"name":"a","email":"a@x"},{"id":2,"name":"b","email":"A@x"}]}`,
		"not json":      `{`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := manager.UnmarshalState([]byte(doc))
			require.Error(t, err)
		})
	}
}
