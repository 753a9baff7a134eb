package session

import "github.com/ashureev/crmchat/internal/domain"

// BindingState describes how the browsing context is tied to a user.
// It only moves forward: Unbound, then AnonymousBound, then IdentifiedBound.
type BindingState string

const (
	Unbound         BindingState = "unbound"
	AnonymousBound  BindingState = "anonymous"
	IdentifiedBound BindingState = "identified"
)

// StateOf returns the binding state implied by the active user.
func StateOf(u *domain.ActiveUser) BindingState {
	switch {
	case u == nil:
		return Unbound
	case u.IsAnonymous:
		return AnonymousBound
	default:
		return IdentifiedBound
	}
}
