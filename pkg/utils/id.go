package utils

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"convo/pkg/models"
)

// idSeq breaks collisions when multiple ids are generated within the same
// nanosecond.
var idSeq uint64

// GenMsgID returns a server-assigned message id.
func GenMsgID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("msg-%d-%d", n, s)
}

// GenConvID returns a conversation id.
func GenConvID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("conv-%d-%d", n, s)
}

// GenTempID returns a client-local optimistic message id. Temp ids are
// random rather than sequential so retries never collide with a
// previously rolled-back send.
func GenTempID() string {
	return models.TempIDPrefix + uuid.NewString()
}
