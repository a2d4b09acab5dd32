package reference

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPrefix = "PAY"
	RefundPrefix  = "REFUND_"
)

var now = time.Now

// New returns PREFIX_<unix millis>_<12 hex chars>. The random part comes from a v4 UUID.
func New(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s_%d_%s", strings.ToUpper(prefix), now().UnixMilli(), strings.ToUpper(suffix))
}

func Refund(original string) string {
	return RefundPrefix + original
}

func IsRefund(ref string) bool {
	return strings.HasPrefix(ref, RefundPrefix)
}
