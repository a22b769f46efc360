package receiver

import (
	"fmt"
	"strings"
)

// Links selects how the receiver uses the info file and pairing packets.
type Links uint8

const (
	LinkFile Links = 1 << iota // load the info file at startup
	LinkPair                   // learn keys and names from pairing packets
	LinkAdd                    // append learned devices to the info file

	LinkAll = LinkFile | LinkPair | LinkAdd
)

// ParseLinks reads link flags from their letter form: F file, P pair,
// A add. Letters are case-insensitive.
func ParseLinks(s string) (Links, error) {
	var l Links
	for _, c := range strings.ToUpper(s) {
		switch c {
		case 'F':
			l |= LinkFile
		case 'P':
			l |= LinkPair
		case 'A':
			l |= LinkAdd
		default:
			return 0, fmt.Errorf("receiver: unknown link flag %q", c)
		}
	}
	return l, nil
}

func (l Links) String() string {
	var b strings.Builder
	if l&LinkFile != 0 {
		b.WriteByte('F')
	}
	if l&LinkPair != 0 {
		b.WriteByte('P')
	}
	if l&LinkAdd != 0 {
		b.WriteByte('A')
	}
	return b.String()
}
