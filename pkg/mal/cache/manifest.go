package cache

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/chosenoffset/mal/pkg/mal/malerr"
)

// Entry is one manifest line: a metric identifier and its expression.
type Entry struct {
	ID         string
	Expression string
	Line       int
}

// ParseManifest reads metricIdentifier=expression lines. Blank lines and
// lines starting with # are skipped. Each line is split on its first '=',
// so expressions may contain further '=' characters.
func ParseManifest(r io.Reader) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]int)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		id, expr, ok := strings.Cut(text, "=")
		id, expr = strings.TrimSpace(id), strings.TrimSpace(expr)
		if !ok || id == "" || expr == "" {
			return nil, malerr.New(malerr.Configuration, "manifest line %d: want metricIdentifier=expression, got %q", line, text)
		}
		if first, dup := seen[id]; dup {
			return nil, malerr.New(malerr.Configuration, "manifest line %d: metric %q already defined on line %d", line, id, first)
		}
		seen[id] = line
		entries = append(entries, Entry{ID: id, Expression: expr, Line: line})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "reading manifest")
	}
	return entries, nil
}
