package engine

import "github.com/louisbranch/sportchef/internal/services/records/domain/command"

// Manager is the pure domain half of a record store. It owns no I/O.
//
// Decide reports whether cmd would be accepted against state without
// changing it; only accepted commands are journaled. Apply performs the
// mutation and must succeed for any command Decide accepted on the same
// state, since it is also what replays the journal.
type Manager[S any] interface {
	NewState() S
	Decide(state S, cmd command.Command) error
	Apply(state S, cmd command.Command) (any, error)
	MarshalState(state S) ([]byte, error)
	UnmarshalState(data []byte) (S, error)
}
