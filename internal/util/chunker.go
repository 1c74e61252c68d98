package util

import "strings"

// ChunkText packs blank-line separated paragraphs into chunks of at most size
// runes. A paragraph longer than size is cut into windows that share overlap
// runes with the previous window.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = 1500
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var out []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		runes := []rune(para)
		if len(runes) > size {
			flush()
			out = append(out, windows(runes, size, overlap)...)
			continue
		}
		if curLen > 0 && curLen+2+len(runes) > size {
			flush()
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(para)
		curLen += len(runes)
	}
	flush()
	return out
}

func windows(runes []rune, size, overlap int) []string {
	step := size - overlap
	var out []string
	for i := 0; i < len(runes); i += step {
		end := min(i+size, len(runes))
		if part := strings.TrimSpace(string(runes[i:end])); part != "" {
			out = append(out, part)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
