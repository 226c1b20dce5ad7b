package transfer

import (
	"encoding/hex"

	"github.com/rft-go/rft/internal/rftio"
	"github.com/zeebo/blake3"
)

// Blake3Digest computes a whole-file BLAKE3 digest, surfaced as an
// extra integrity field on Stat answers alongside the wire's mandatory
// CRC-32 (SPEC_FULL.md §4.8) — a stronger, opt-in check the wire
// format itself doesn't carry.
func Blake3Digest(fs rftio.FileSystem, path string, size int64) (string, error) {
	h := blake3.New()
	const chunk = 1 << 16
	buf := make([]byte, chunk)
	var off int64
	for off < size {
		n := int64(chunk)
		if size-off < n {
			n = size - off
		}
		read, err := fs.ReadAt(path, buf[:n], off)
		if read > 0 {
			h.Write(buf[:read])
		}
		if err != nil {
			return "", err
		}
		off += n
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
