// Package gopher implements the wire format of a minimal RFC 1436 server:
// request line assembly, selector resolution against a served root, and the
// response sources that produce directory menus, file bodies and error items.
//
// Nothing in this package touches sockets. Connections feed bytes in and pull
// chunks out; see pkg/adapter/gopher for the readiness-driven side.
package gopher

import (
	"fmt"
	"strings"
)

// ItemType is the single leading character of a Gopher menu line.
type ItemType byte

const (
	ItemFile      ItemType = '0'
	ItemDirectory ItemType = '1'
	ItemError     ItemType = '3'
	ItemInfo      ItemType = 'i'
)

func (t ItemType) String() string {
	return string(rune(t))
}

// LineEnd terminates every line the server writes. The historical "\n\r"
// order is kept for compatibility with existing clients of this server.
const LineEnd = "\n\r"

// Default advertised location written into menu lines.
const (
	DefaultHost = "localhost"
	DefaultPort = 70
)

// MenuLine formats one menu entry.
func MenuLine(t ItemType, display, selector, host string, port int) []byte {
	return fmt.Appendf(nil, "%c%s\t%s\t%s\t%d%s", byte(t), display, selector, host, port, LineEnd)
}

// FileEntry formats a directory member as a text file item whose selector is
// the bare entry name.
func FileEntry(name, host string, port int) []byte {
	return MenuLine(ItemFile, name, name, host, port)
}

// ErrorItem formats the single-line error response followed by the
// end-of-menu marker.
func ErrorItem(t ItemType, msg string) []byte {
	// Tabs or line breaks in the message would corrupt the menu framing.
	msg = strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\r', '\n':
			return ' '
		}
		return r
	}, msg)
	return fmt.Appendf(nil, "%c%s\t\t\t%s.%s", byte(t), msg, LineEnd, LineEnd)
}
