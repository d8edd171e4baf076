package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// MaxRenameAttempts caps how many numbered variants AutoRename will try.
const MaxRenameAttempts = 100

// JobID derives the stable identifier for a destination. The same folder and
// file name always yield the same ID, so a re-submission finds its earlier record.
func JobID(folder, name string) string {
	h := sha256.Sum256([]byte(filepath.Join(filepath.Clean(folder), name)))
	return "job_" + hex.EncodeToString(h[:16])
}

// AutoRename returns the first "base_N.ext" variant of name for which taken
// reports false. N starts at 2. A trailing "_N" is only treated as an earlier
// rename when the unnumbered name is taken too. ok is false when every
// variant up to MaxRenameAttempts is taken.
func AutoRename(name string, taken func(string) bool) (string, bool) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	// "file_2" becomes "file_3", not "file_2_2"; "report_2024" stays intact
	if i := strings.LastIndex(base, "_"); i > 0 && isDigits(base[i+1:]) && taken(base[:i]+ext) {
		base = base[:i]
	}

	for n := 2; n < MaxRenameAttempts+2; n++ {
		candidate := fmt.Sprintf("%s_%d%s", base, n, ext)
		if !taken(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
