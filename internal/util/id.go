package util

import (
	crand "crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idMu      sync.Mutex
	idEntropy *ulid.MonotonicEntropy
)

func init() {
	var seed int64
	if err := binary.Read(crand.Reader, binary.BigEndian, &seed); err != nil {
		seed = time.Now().UnixNano()
	}
	idEntropy = ulid.Monotonic(mrand.New(mrand.NewSource(seed)), 0)
}

// NewGroupID returns a unique trade group identifier of the form
// "gid_<ulid>". ULIDs are time-ordered, so identifiers sort by creation
// time, and the monotonic entropy source keeps ids generated within the
// same millisecond strictly increasing.
func NewGroupID() string {
	idMu.Lock()
	defer idMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy)
	return "gid_" + strings.ToLower(id.String())
}
