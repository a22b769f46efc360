package radio

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"bax-receiver/internal/framing"
)

const maxScriptLine = 128

// ParseScript reads a radio init script. Each command line has the form
// 0xTTLLVV..., TT being the command type, LL the data length and VV the
// data bytes. Lines not starting with 0x or 0X are ignored, and commands
// whose length byte disagrees with the data present are skipped.
func ParseScript(r io.Reader, logger *slog.Logger) ([]Command, error) {
	var cmds []Command
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if len(line) < 2 || line[0] != '0' || (line[1] != 'x' && line[1] != 'X') {
			continue
		}
		b := framing.DecodeHexString(line[2:], maxScriptLine)
		if len(b) < 2 || int(b[1]) != len(b)-2 {
			logger.Warn("malformed radio script command", "line", lineNo)
			continue
		}
		cmds = append(cmds, Command{Type: Type(b[0]), Data: b[2:]})
	}
	if err := sc.Err(); err != nil {
		return cmds, fmt.Errorf("radio script: %w", err)
	}
	return cmds, nil
}
