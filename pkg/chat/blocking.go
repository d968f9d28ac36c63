package chat

import (
	"fmt"

	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/models"
	"wisdomchat/pkg/store"
)

// Block adds target to the caller's block list. Blocking is effective
// immediately for subsequent sends and forwards.
func Block(callerID, target string) error {
	if target == "" {
		return fmt.Errorf("%w: user required", ErrValidation)
	}
	if target == callerID {
		return fmt.Errorf("%w: cannot block yourself", ErrValidation)
	}
	_, err := store.UpdateUserState(callerID, func(st *models.UserState) error {
		if st.HasBlocked(target) {
			return nil
		}
		st.Blocked = append(st.Blocked, target)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}
	logger.Info("user_blocked", "caller", callerID, "target", target)
	return nil
}

// Unblock removes target from the caller's block list; unblocking a user
// who was never blocked is a no-op.
func Unblock(callerID, target string) error {
	if target == "" {
		return fmt.Errorf("%w: user required", ErrValidation)
	}
	_, err := store.UpdateUserState(callerID, func(st *models.UserState) error {
		out := st.Blocked[:0]
		for _, b := range st.Blocked {
			if b != target {
				out = append(out, b)
			}
		}
		st.Blocked = out
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}
	return nil
}

// Blocked returns the caller's block list.
func Blocked(callerID string) ([]string, error) {
	st, err := store.GetUserState(callerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	return st.Blocked, nil
}

// CheckSend rejects a send when the sender has blocked the recipient.
// The check runs before any persistence so a blocked send leaves no
// trace. Checks are sender-side only: the recipient's list is consulted
// by the recipient's own sends.
func CheckSend(senderID, recipientID string) error {
	st, err := store.GetUserState(senderID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if st.HasBlocked(recipientID) {
		return fmt.Errorf("%w: you have blocked this user", ErrForbidden)
	}
	return nil
}
