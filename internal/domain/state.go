// Package domain contains core domain types for the zapito chatbot.
package domain

// State is the conversation's current menu position.
type State string

// Persisted state values. They match the values written by earlier
// deployments, so existing rows keep working.
const (
	StateInitial   State = "MENU_INICIAL"
	StateOptions   State = "AGUARDANDO_OPCAO"
	StateSac       State = "MENU_SAC"
	StateOutros    State = "MENU_OUTROS"
	StateFeedback  State = "AGUARDANDO_FEEDBACK"
	StateFinalized State = "FINALIZADO"
)

// DefaultState is assigned to sessions created on first contact.
const DefaultState = StateInitial

var knownStates = map[State]struct{}{
	StateInitial:   {},
	StateOptions:   {},
	StateSac:       {},
	StateOutros:    {},
	StateFeedback:  {},
	StateFinalized: {},
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	_, ok := knownStates[s]
	return ok
}

func (s State) String() string {
	return string(s)
}

// ParseState converts a stored value to a State.
// Unknown values are treated as the initial state.
func ParseState(v string) State {
	s := State(v)
	if !s.Valid() {
		return StateInitial
	}
	return s
}
