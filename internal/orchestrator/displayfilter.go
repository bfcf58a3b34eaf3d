package orchestrator

import "strings"

const (
	actionOpen  = "<action>"
	actionClose = "</action>"
)

// DisplayFilter is the character-level state machine that withholds stream
// chunks falling between <action> and </action> markers from the rendering
// layer while the orchestrator still retains everything in the captured
// response (§4.K step 2). It tolerates markers split across chunk
// boundaries by holding back the longest pending partial match.
type DisplayFilter struct {
	pending   strings.Builder
	inAction  bool
}

// Feed processes one stream chunk and returns the portion of it, if any,
// safe to show the user immediately.
func (f *DisplayFilter) Feed(chunk string) string {
	f.pending.WriteString(chunk)
	data := f.pending.String()
	f.pending.Reset()

	var out strings.Builder
	for {
		if !f.inAction {
			idx := strings.Index(data, actionOpen)
			if idx == -1 {
				keep := partialSuffixLen(data, actionOpen)
				out.WriteString(data[:len(data)-keep])
				f.pending.WriteString(data[len(data)-keep:])
				return out.String()
			}
			out.WriteString(data[:idx])
			data = data[idx+len(actionOpen):]
			f.inAction = true
		} else {
			idx := strings.Index(data, actionClose)
			if idx == -1 {
				keep := partialSuffixLen(data, actionClose)
				f.pending.WriteString(data[len(data)-keep:])
				return out.String()
			}
			data = data[idx+len(actionClose):]
			f.inAction = false
		}
	}
}

// partialSuffixLen returns the length of the longest suffix of data that is
// also a proper prefix of marker, so a marker split across two chunks is
// never displayed piecemeal.
func partialSuffixLen(data, marker string) int {
	max := len(marker) - 1
	if max > len(data) {
		max = len(data)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(data, marker[:n]) {
			return n
		}
	}
	return 0
}
