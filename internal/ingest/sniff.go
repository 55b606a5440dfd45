package ingest

import (
	"bytes"
)

// DefaultDelimiter is used when detection is ambiguous.
const DefaultDelimiter = ','

// delimiter candidates, in preference order for ties.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// DetectDelimiter guesses the delimiter from a bounded byte sample. It is a
// pure function: it scores each candidate by how consistently it splits the
// sampled lines and returns the best guess plus whether that guess was
// unambiguous. Callers fall back to DefaultDelimiter when confident is
// false; the returned rune is already that fallback.
func DetectDelimiter(sample []byte) (delimiter rune, confident bool) {
	lines := sampleLines(sample)
	if len(lines) == 0 {
		return DefaultDelimiter, false
	}

	bestScore := 0
	best := rune(0)
	ambiguous := false

	for _, cand := range delimiterCandidates {
		score := scoreDelimiter(lines, cand)
		if score > bestScore {
			bestScore = score
			best = cand
			ambiguous = false
		} else if score == bestScore && score > 0 {
			ambiguous = true
		}
	}

	if best == 0 || ambiguous {
		return DefaultDelimiter, false
	}
	return best, true
}

// scoreDelimiter rewards candidates that appear on the first line and split
// every sampled line into the same number of fields.
func scoreDelimiter(lines [][]byte, cand rune) int {
	first := bytes.Count(lines[0], []byte(string(cand)))
	if first == 0 {
		return 0
	}
	for _, line := range lines[1:] {
		if bytes.Count(line, []byte(string(cand))) != first {
			// Inconsistent field counts: count only the header line.
			return first
		}
	}
	return first * (len(lines) + 1)
}

// sampleLines splits the sample into complete lines, dropping a trailing
// partial line when more than one line is available.
func sampleLines(sample []byte) [][]byte {
	sample = stripBOM(sample)
	if len(sample) == 0 {
		return nil
	}

	raw := bytes.Split(sample, []byte("\n"))
	lines := make([][]byte, 0, len(raw))
	for _, line := range raw {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	if len(lines) > 1 && !bytes.HasSuffix(sample, []byte("\n")) {
		lines = lines[:len(lines)-1]
	}
	return lines
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func stripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, utf8BOM)
}
