package gateway

import (
	"os"
	"strings"
)

// tailLines reads up to n log lines from the end of path without loading
// the whole file: it seeks to a suffix of roughly n*512 bytes (enough to
// cover n lines for typical widths), discards the first line of that
// suffix if it is a possibly-partial line from reading mid-file, then
// returns at most the last n lines, optionally filtered to those
// containing grep as a literal substring. A missing file yields an empty
// slice and no error.
func tailLines(path string, n int, grep string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := info.Size()
	want := int64(n) * 512
	if want <= 0 || want > size {
		want = size
	}
	offset := size - want

	buf := make([]byte, want)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	text := string(buf)

	if offset > 0 {
		if idx := strings.IndexByte(text, '\n'); idx >= 0 {
			text = text[idx+1:]
		} else {
			text = ""
		}
	}

	text = strings.TrimRight(text, "\n")
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}

	if grep != "" {
		filtered := make([]string, 0, len(lines))
		for _, l := range lines {
			if strings.Contains(l, grep) {
				filtered = append(filtered, l)
			}
		}
		lines = filtered
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
