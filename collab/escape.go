package collab

import (
	"strings"
)

// Escape escapes a textual field for embedding in a canonical export.
// Newlines are escaped because exports can travel in urls, and tildes
// because the client serializer overloads them.
func Escape(src string) string {
	return escape(src, false)
}

func escape(src string, ignoreQuotes bool) string {
	var result strings.Builder
	for _, ch := range src {
		switch ch {
		case '\'':
			result.WriteString("&apos;")
		case '"':
			if ignoreQuotes {
				result.WriteRune(ch)
			} else {
				result.WriteString("&quot;")
			}
		case '<':
			result.WriteString("&lt;")
		case '>':
			result.WriteString("&gt;")
		case '&':
			result.WriteString("&amp;")
		case '\n':
			result.WriteString("&#xD;")
		case '~':
			result.WriteString("&#126;")
		default:
			result.WriteRune(ch)
		}
	}
	return result.String()
}
