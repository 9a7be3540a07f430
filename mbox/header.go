package mbox

import "bytes"

// repairHeader drops header lines that are neither a "key: value" field nor
// a continuation of one, so a single damaged line does not cost the whole
// message. The body is returned untouched. The dropped lines are returned
// without their line endings.
func repairHeader(raw []byte) ([]byte, []string) {
	var (
		out     bytes.Buffer
		dropped []string
		inField bool
	)
	out.Grow(len(raw))

	rest := raw
	for len(rest) > 0 {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i+1]
		}
		rest = rest[len(line):]

		content := bytes.TrimRight(line, "\r\n")
		if len(content) == 0 {
			out.Write(line)
			out.Write(rest)
			break
		}

		switch {
		case content[0] == ' ' || content[0] == '\t':
			if !inField {
				dropped = append(dropped, string(content))
				continue
			}
		case isField(content):
			inField = true
		default:
			inField = false
			dropped = append(dropped, string(content))
			continue
		}
		out.Write(line)
	}

	return out.Bytes(), dropped
}

// isField reports whether line starts with a field name of printable ASCII
// followed by a colon.
func isField(line []byte) bool {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return false
	}
	name := bytes.TrimRight(line[:i], " \t")
	if len(name) == 0 {
		return false
	}
	for _, c := range name {
		if c < 33 || c > 126 {
			return false
		}
	}
	return true
}
