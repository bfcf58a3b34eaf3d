package orchestrator

import "math"

// isCJK reports whether r falls in one of the common CJK ideograph/kana/
// hangul blocks (§4.K token estimation).
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // CJK Extension A
		return true
	case r >= 0xF900 && r <= 0xFAFF: // CJK Compatibility Ideographs
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana + Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // Hangul syllables
		return true
	default:
		return false
	}
}

func isASCIIWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

// estimateRaw scores one message body: CJK characters weigh 1.5 each, runs
// of ASCII word characters weigh 1.3 per run ("word"), and everything else
// weighs 0.5 per character.
func estimateRaw(text string) float64 {
	var total float64
	inWord := false
	for _, r := range text {
		switch {
		case isCJK(r):
			if inWord {
				total += 1.3
				inWord = false
			}
			total += 1.5
		case isASCIIWordRune(r):
			inWord = true
		default:
			if inWord {
				total += 1.3
				inWord = false
			}
			total += 0.5
		}
	}
	if inWord {
		total += 1.3
	}
	return total
}

// EstimateTokens sums the raw per-message score across every message in the
// transcript and rounds up once at the end (§4.K token estimation).
func EstimateTokens(messages []Message) int {
	var total float64
	for _, m := range messages {
		total += estimateRaw(m.Content)
	}
	return int(math.Ceil(total))
}
