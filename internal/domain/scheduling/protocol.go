package scheduling

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

// Clock is injected so booking rules can be tested against a fixed instant.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

const (
	protocolPrefix      = "PROT"
	protocolRandomBytes = 6
)

var protocolPattern = regexp.MustCompile(`^PROT\d{6}[0-9A-F]{12}$`)

// ValidProtocolNumber reports whether s has the PROT<YYYYMM><12 HEX> shape.
func ValidProtocolNumber(s string) bool {
	return protocolPattern.MatchString(s)
}

// ProtocolGenerator builds tracking numbers: PROT, the local year and month,
// then 48 random bits in uppercase hex.
type ProtocolGenerator struct {
	Random   io.Reader
	Location *time.Location
}

func (g ProtocolGenerator) Generate(now time.Time) (string, error) {
	src := g.Random
	if src == nil {
		src = rand.Reader
	}
	loc := g.Location
	if loc == nil {
		loc = time.UTC
	}

	buf := make([]byte, protocolRandomBytes)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", fmt.Errorf("read protocol randomness: %w", err)
	}
	return protocolPrefix + now.In(loc).Format("200601") + strings.ToUpper(hex.EncodeToString(buf)), nil
}
