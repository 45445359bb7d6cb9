package storpath

import (
	"path"
	"strings"
)

// The helpers below work on the body of an object-store path, the part after
// the scheme. The first segment (bucket or tenant) is the root: normalization
// never removes it.

func splitBody(body string) []string {
	if body == "" {
		return nil
	}
	return strings.Split(body, "/")
}

func joinBody(body string, elem ...string) string {
	for _, e := range elem {
		if e == "" {
			continue
		}
		trimmed := strings.TrimLeft(e, "/")
		if trimmed == "" {
			if body != "" && !strings.HasSuffix(body, "/") {
				body += "/"
			}
			continue
		}
		if body != "" && !strings.HasSuffix(body, "/") {
			body += "/"
		}
		body += trimmed
	}
	return body
}

func cleanBody(body string) string {
	if body == "" {
		return ""
	}
	trailing := strings.HasSuffix(body, "/")
	out := make([]string, 0, strings.Count(body, "/")+1)
	for _, seg := range strings.Split(body, "/") {
		switch seg {
		case "", ".":
		case "..":
			// ascending past the root segment degenerates to the root
			if len(out) > 1 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	cleaned := strings.Join(out, "/")
	if trailing && cleaned != "" {
		cleaned += "/"
	}
	return cleaned
}

// parentBody and nameBody expect a cleaned body.
func parentBody(body string) string {
	trimmed := strings.TrimSuffix(body, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[:idx]
}

func nameBody(body string) string {
	trimmed := strings.TrimSuffix(body, "/")
	name := trimmed[strings.LastIndex(trimmed, "/")+1:]
	if name != "" && strings.HasSuffix(body, "/") {
		name += "/"
	}
	return name
}

func extBody(body string) string {
	return path.Ext(strings.TrimSuffix(nameBody(body), "/"))
}

func withTrailingSlash(body string) string {
	if body == "" || strings.HasSuffix(body, "/") {
		return body
	}
	return body + "/"
}
