package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const maxLine = 8 << 20

// ReadFile decodes every line of a .jsonl.zst (or plain .jsonl) journal and
// hands the raw JSON to fn. Returning a non-nil error from fn stops the scan.
func ReadFile(path string, fn func(line int, raw json.RawMessage) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer dec.Close()
		r = dec
	}
	return Scan(r, fn)
}

func Scan(r io.Reader, fn func(line int, raw json.RawMessage) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	n := 0
	for sc.Scan() {
		n++
		b := sc.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		if !json.Valid(b) {
			return fmt.Errorf("line %d: invalid json", n)
		}
		raw := make(json.RawMessage, len(b))
		copy(raw, b)
		if err := fn(n, raw); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Files lists the journal files for prefix under dir, oldest first.
func Files(dir, prefix string) ([]string, error) {
	out, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
