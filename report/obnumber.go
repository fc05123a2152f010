package report

import (
	"crypto/rand"
	"math/big"
	"time"
)

const obAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// OBNumber formats an occurrence-book reference "OB-YYYYMMDDHHMMSS-XXXX".
// It is cosmetic and carries no uniqueness guarantee.
func OBNumber(now time.Time) string {
	suffix := make([]byte, 4)
	max := big.NewInt(int64(len(obAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			suffix[i] = obAlphabet[now.UnixNano()%int64(len(obAlphabet))]
			continue
		}
		suffix[i] = obAlphabet[n.Int64()]
	}
	return "OB-" + now.UTC().Format("20060102150405") + "-" + string(suffix)
}
