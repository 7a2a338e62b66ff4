package ant

import (
	"fmt"
	"strings"
)

// Hexdump 每行 8 字节: 十六进制列 + 可打印 ASCII
func Hexdump(data []byte) string {
	var sb strings.Builder
	for off := 0; off < len(data); off += 8 {
		end := off + 8
		if end > len(data) {
			end = len(data)
		}
		line := data[off:end]
		fmt.Fprintf(&sb, "%04x  ", off)
		for i := 0; i < 8; i++ {
			if i < len(line) {
				fmt.Fprintf(&sb, "0x%02x ", line[i])
			} else {
				sb.WriteString("     ")
			}
		}
		sb.WriteString(" ")
		for _, b := range line {
			if b >= 32 && b <= 126 {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
