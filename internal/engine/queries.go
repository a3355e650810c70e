package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Query is one benchmark statement and the identifier results are keyed by.
type Query struct {
	ID   string
	Text string
}

var markerPattern = regexp.MustCompile(`^\s*--\s*(\{.*\})\s*$`)

// LoadQueries reads the query source at path. A directory yields one query
// per *.sql file, identified by the file stem. A file is split on
// `-- {"query_id": "..."}` marker lines, or on semicolons when it has none,
// in which case queries are numbered q1..qN.
func LoadQueries(path string) ([]Query, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat query source: %w", err)
	}
	var queries []Query
	if info.IsDir() {
		queries, err = loadDir(path)
	} else {
		queries, err = loadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries found in %s", path)
	}
	return queries, nil
}

func loadDir(dir string) ([]Query, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list query files: %w", err)
	}
	var queries []Query
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read query file: %w", err)
		}
		text := cleanStatement(string(data))
		if text == "" {
			continue
		}
		id := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		queries = append(queries, Query{ID: id, Text: text})
	}
	sort.SliceStable(queries, func(i, j int) bool {
		return CompareIDs(queries[i].ID, queries[j].ID) < 0
	})
	return queries, nil
}

func loadFile(path string) ([]Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query file: %w", err)
	}
	return ParseQueries(string(data))
}

// ParseQueries splits a multi-query document.
func ParseQueries(doc string) ([]Query, error) {
	var (
		queries []Query
		current *Query
		body    strings.Builder
		marked  bool
	)
	flush := func() {
		if current == nil {
			return
		}
		if text := cleanStatement(body.String()); text != "" {
			current.Text = text
			queries = append(queries, *current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(doc, "\n") {
		m := markerPattern.FindStringSubmatch(line)
		if m == nil {
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}
		var marker struct {
			QueryID json.RawMessage `json:"query_id"`
		}
		if err := json.Unmarshal([]byte(m[1]), &marker); err != nil || len(marker.QueryID) == 0 {
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}
		flush()
		marked = true
		current = &Query{ID: unquoteID(marker.QueryID)}
	}
	if marked {
		flush()
		return queries, nil
	}

	for _, stmt := range strings.Split(body.String(), ";") {
		if text := cleanStatement(stmt); text != "" {
			queries = append(queries, Query{ID: "q" + strconv.Itoa(len(queries)+1), Text: text})
		}
	}
	return queries, nil
}

func unquoteID(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// cleanStatement trims whitespace and a trailing semicolon. Statements
// made only of comments are dropped.
func cleanStatement(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	for _, line := range strings.Split(s, "\n") {
		l := strings.TrimSpace(line)
		if l != "" && !strings.HasPrefix(l, "--") {
			return s
		}
	}
	return ""
}

// CompareIDs orders query identifiers so that embedded numbers compare by
// value ("q2" before "q10").
func CompareIDs(a, b string) int {
	for a != "" && b != "" {
		da, ra := leadingDigits(a)
		db, rb := leadingDigits(b)
		if da != "" && db != "" {
			na, _ := strconv.ParseUint(da, 10, 64)
			nb, _ := strconv.ParseUint(db, 10, 64)
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			if a[0] < b[0] {
				return -1
			}
			return 1
		}
		a, b = a[1:], b[1:]
	}
	return len(a) - len(b)
}

func leadingDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}
