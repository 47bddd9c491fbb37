// internal/pagescript/selectors.go
package pagescript

import (
	"regexp"
	"strconv"
	"strings"
)

var plainIdent = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// IDSelector returns a selector matching the element id. Ids that are not
// plain CSS identifiers use the attribute form.
func IDSelector(id string) string {
	if id == "" {
		return ""
	}
	if plainIdent.MatchString(id) {
		return "#" + id
	}
	return AttrSelector("id", id)
}

// AttrSelector returns `[attr="value"]` with the value quoted for CSS.
func AttrSelector(attr, value string) string {
	if attr == "" || value == "" {
		return ""
	}
	return "[" + attr + `="` + cssQuote(value) + `"]`
}

// SegmentSelector renders one path segment as `tag:nth-of-type(n)`.
func SegmentSelector(s PathSegment) string {
	return s.Tag + ":nth-of-type(" + strconv.Itoa(s.Nth) + ")"
}

// PathSelectors returns the structural selector candidates for an element,
// shortest first. Each candidate extends the previous one by one ancestor; the
// walk stops at the first ancestor with a usable id, which anchors the path.
// The last candidate is either id anchored or rooted at <html>, and so unique.
func PathSelectors(path []PathSegment) []string {
	if len(path) == 0 {
		return nil
	}
	out := make([]string, 0, len(path))
	suffix := ""
	for i := len(path) - 1; i >= 0; i-- {
		seg := path[i]
		if i < len(path)-1 && seg.ID != "" && plainIdent.MatchString(seg.ID) {
			out = append(out, "#"+seg.ID+" > "+suffix)
			return out
		}
		if suffix == "" {
			suffix = SegmentSelector(seg)
		} else {
			suffix = SegmentSelector(seg) + " > " + suffix
		}
		out = append(out, suffix)
	}
	return out
}

func cssQuote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return strings.ReplaceAll(v, "\n", `\a `)
}
