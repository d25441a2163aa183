package service

import (
	"fmt"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
)

// Notifier is told after every committed ledger write so subscribers can
// read it without waiting for their next poll.
type Notifier interface {
	Notify()
}

func requireRole(actor *domain.Actor, role domain.Role) error {
	if actor == nil {
		return fmt.Errorf("%w: no actor", domain.ErrUnauthorized)
	}
	if !actor.HasRole(role) {
		return fmt.Errorf("%w: %s lacks role %s", domain.ErrUnauthorized, actor.Name, role)
	}
	return nil
}

func notifyWritten(n Notifier) {
	if n != nil {
		n.Notify()
	}
}
