package orders

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"
)

const (
	numberPrefix   = "SF"
	numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	numberRandLen  = 6
	// maxNumberAttempts bounds regeneration after a unique-index collision.
	maxNumberAttempts = 5
)

// NumberGenerator returns a customer-facing order number.
type NumberGenerator func(now time.Time) string

// NewOrderNumber builds SF-<base36 unix millis>-<6 random chars>. Uniqueness is
// enforced by idx_orders_order_number; the generator only makes collisions rare.
func NewOrderNumber(now time.Time) string {
	var buf [numberRandLen]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to the clock.
		nanos := uint64(time.Now().UnixNano())
		for i := range buf {
			buf[i] = byte(nanos >> (8 * i))
		}
	}
	suffix := make([]byte, numberRandLen)
	for i, b := range buf {
		suffix[i] = numberAlphabet[int(b)%len(numberAlphabet)]
	}

	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return numberPrefix + "-" + stamp + "-" + string(suffix)
}
