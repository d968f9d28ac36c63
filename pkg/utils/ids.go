package utils

import (
	"fmt"
	"sync/atomic"
	"time"
)

var idSeq uint64

func genID(prefix string) string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("%s-%d-%d", prefix, n, s)
}

// GenChatID returns a new unique chat id.
func GenChatID() string { return genID("chat") }

// GenMessageID returns a new unique message id.
func GenMessageID() string { return genID("msg") }

// GenNotificationID returns a new unique notification id.
func GenNotificationID() string { return genID("ntf") }

// GenEffectID returns a new unique outbox effect id.
func GenEffectID() string { return genID("eff") }
