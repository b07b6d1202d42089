package catalogdb

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/snapetech/stalkerproxy/internal/portal"
)

// ChannelHash computes H(name, number, genre, genre_id, logo, cmd) per spec
// §4.B step 3: a content fingerprint of a raw channel's portal-reported
// fields, used to skip re-running tag extraction and matching when nothing
// the portal sent has actually changed.
func ChannelHash(rc portal.RawChannel) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{rc.Name, rc.Number, rc.Genre, rc.GenreID, rc.Logo, rc.Cmd}, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}
