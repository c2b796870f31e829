package core

import "strings"

// maxTagScan caps how much of a stream head gets buffered while looking for
// the SOURCE tag before giving up and passing everything through.
const maxTagScan = 512

// tagScanner incrementally parses the SOURCE-tag header off the front of a
// streamed model response. Fragments are buffered only until the scanner can
// decide whether the contract was honored; from then on text flows straight
// through. The tag and separator never reach the consumer.
type tagScanner struct {
	buf     string
	decided bool
	tag     string
}

// newTagScanner returns a scanner. When expectTag is false (no context was
// supplied, so the model was never asked to declare a source) the scanner is
// a pass-through from the first fragment.
func newTagScanner(expectTag bool) *tagScanner {
	return &tagScanner{decided: !expectTag}
}

// Tag returns the source tag once known ("" when the model omitted it).
func (ts *tagScanner) Tag() string { return ts.tag }

// Feed consumes a fragment and returns whatever text is ready to show.
func (ts *tagScanner) Feed(fragment string) string {
	if ts.decided {
		return fragment
	}
	ts.buf += fragment

	trimmed := strings.TrimLeft(ts.buf, " \t\r\n")

	// Still short enough that "SOURCE:" could be on the way?
	if len(trimmed) < len(sourcePrefix) {
		if strings.HasPrefix(sourcePrefix, trimmed) && len(ts.buf) <= maxTagScan {
			return ""
		}
		return ts.giveUp()
	}
	if !strings.HasPrefix(trimmed, sourcePrefix) {
		return ts.giveUp()
	}

	rest := trimmed[len(sourcePrefix):]
	newline := strings.IndexByte(rest, '\n')
	if newline < 0 {
		if len(ts.buf) > maxTagScan {
			return ts.giveUp()
		}
		return ""
	}

	tag := strings.TrimSpace(rest[:newline])
	switch tag {
	case SourceDocument, SourceWeb, SourceKnowledge:
	default:
		return ts.giveUp()
	}

	body := strings.TrimLeft(rest[newline+1:], " \t\r\n")
	if len(body) < len(sourceSeparator) {
		if strings.HasPrefix(sourceSeparator, body) && len(ts.buf) <= maxTagScan {
			return ""
		}
		return ts.giveUp()
	}
	if !strings.HasPrefix(body, sourceSeparator) {
		return ts.giveUp()
	}

	ts.tag = tag
	ts.decided = true
	ts.buf = ""
	return strings.TrimLeft(body[len(sourceSeparator):], " \t\r\n")
}

// Flush returns any text still buffered when the stream ends. A stream that
// ended before the scanner could decide is parsed one final time so a
// complete-but-short response still honors the contract.
func (ts *tagScanner) Flush() string {
	if ts.decided {
		return ""
	}
	ts.decided = true
	tag, answer := ParseSourceAnswer(ts.buf)
	ts.tag = tag
	ts.buf = ""
	return answer
}

// giveUp releases the whole buffer untouched; the model skipped the tag.
func (ts *tagScanner) giveUp() string {
	ts.decided = true
	out := ts.buf
	ts.buf = ""
	return out
}
