package properties

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/withobsrvr/streamctl/internal/errdefs"
)

// Parse reads properties in line form:
//
//	<scope>.<key>=<value>
//
// Blank lines and lines starting with '#' or '!' are ignored. A value ending
// in a single backslash continues on the next line. Within values the escapes
// \n, \t and \\ are recognised. A pair that never receives its '=' or whose
// continuation runs into end of input is reported as a ConfigError.
func Parse(r io.Reader) (*Set, error) {
	set := New()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		pending   strings.Builder
		startLine int
		lineNo    int
	)

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if pending.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!") {
				continue
			}
			startLine = lineNo
			line = trimmed
		} else {
			line = strings.TrimLeft(line, " \t")
		}

		if continues(line) {
			pending.WriteString(line[:len(line)-1])
			continue
		}
		pending.WriteString(line)

		p, err := parseAt(pending.String(), fmt.Sprintf("line %d", startLine))
		if err != nil {
			return nil, err
		}
		set.put(p.Scope, p.Key, p.Value)
		pending.Reset()
	}
	if err := scanner.Err(); err != nil {
		return nil, &errdefs.ConfigError{Field: "properties", Reason: "read failed", Err: err}
	}
	if pending.Len() > 0 {
		return nil, errdefs.Configf(fmt.Sprintf("line %d", startLine), "unterminated key/value pair: continuation reaches end of input")
	}
	return set, nil
}

// ParseAssignment parses a single "<scope>.<key>=<value>" assignment, as
// given to --set on the command line.
func ParseAssignment(s string) (Property, error) {
	return parseAt(strings.TrimSpace(s), "assignment "+fmt.Sprintf("%q", s))
}

// ParseAssignments parses every assignment in order into a Set.
func ParseAssignments(assignments []string) (*Set, error) {
	set := New()
	for _, a := range assignments {
		p, err := ParseAssignment(a)
		if err != nil {
			return nil, err
		}
		set.put(p.Scope, p.Key, p.Value)
	}
	return set, nil
}

func parseAt(line, where string) (Property, error) {
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return Property{}, errdefs.Configf(where, "unterminated key/value pair: missing '='")
	}
	name := strings.TrimSpace(line[:eq])
	value := strings.TrimSpace(line[eq+1:])

	dot := strings.IndexByte(name, '.')
	if dot <= 0 {
		return Property{}, errdefs.Configf(where, "property %q has no scope; expected <scope>.<key>", name)
	}
	scope, key := name[:dot], name[dot+1:]
	if key == "" {
		return Property{}, errdefs.Configf(where, "property %q has an empty key", name)
	}
	return Property{Scope: scope, Key: key, Value: unescape(value)}, nil
}

// continues reports whether line ends in an odd number of backslashes.
func continues(line string) bool {
	n := 0
	for i := len(line) - 1; i >= 0 && line[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
