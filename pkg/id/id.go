package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string. ULIDs sort by creation time, which keeps the
// trades table naturally ordered by entry.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ClientOrderID returns an exchange client order id: a short lowercase
// prefix followed by a ULID, always within the 36 character limit.
func ClientOrderID(prefix string) string {
	prefix = strings.ToLower(prefix)
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	if prefix == "" {
		return New()
	}
	return prefix + "-" + New()
}
