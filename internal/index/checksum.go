package index

import (
	"crypto/sha1" //nolint:gosec // git object id, not a security boundary
	"encoding/hex"
	"strconv"
)

// Checksum returns the git blob id of content, the same value the remote
// contents API reports as "sha" for the file.
func Checksum(content []byte) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
