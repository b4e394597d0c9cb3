package checkout

import (
	"fmt"
	"math/rand"
	"time"
)

// newOrderNumber builds a human-quotable order reference. The timestamp
// suffix plus random tail keeps collisions rare; the unique index on
// order_number catches the rest and the caller regenerates.
func newOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%06d-%04d", now.Unix()%1_000_000, rand.Intn(10_000))
}
