package journal

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// ReadSegment parses one journal segment, oldest entry first.
func ReadSegment(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open journal segment")
	}
	defer file.Close()

	var out []Entry
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := sonic.Unmarshal(line, &e); err != nil {
			return out, errors.Wrap(err, "parse journal entry").With("path", path)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return out, errors.Wrap(err, "scan journal segment")
	}
	return out, nil
}

// Segments lists a journal directory's segment files in creation order.
func Segments(dir, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.log"))
	if err != nil {
		return nil, errors.Wrap(err, "list journal segments")
	}
	sort.Strings(matches)
	return matches, nil
}
