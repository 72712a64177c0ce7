package indi

import "bytes"

// NextDocument extracts the next complete top-level document from buf.
//
// It scans for the next '<', drops any bytes before it, reads the tag name
// from the opening tag and then searches for the literal closing sequence
// "</tagname>". An opening tag that ends in "/>" is a complete document on
// its own.
//
// Parameters:
//   - buf: Accumulated stream bytes
//
// Returns:
//   - doc: The complete document (nil if none is extractable yet)
//   - rest: The unconsumed bytes; equal to buf when buf holds no '<'
//
// Known limitation: this is a flat search. A document containing a nested
// element with its own tag name, or a '>' inside an attribute value, is
// split at the wrong place.
func NextDocument(buf []byte) (doc, rest []byte) {
	for {
		start := bytes.IndexByte(buf, '<')
		if start == -1 {
			return nil, buf
		}
		buf = buf[start:]

		end := bytes.IndexByte(buf, '>')
		if end == -1 {
			return nil, buf
		}

		inner := buf[1:end]
		fields := bytes.Fields(inner)
		if len(fields) == 0 || !isOpeningTagName(fields[0]) {
			// "< >", "</stray>", "<?xml ...?>": skip past '>' and retry
			buf = buf[end+1:]
			continue
		}

		if bytes.HasSuffix(inner, []byte("/")) {
			return buf[:end+1], buf[end+1:]
		}

		tag := fields[0]
		closing := make([]byte, 0, len(tag)+3)
		closing = append(closing, "</"...)
		closing = append(closing, tag...)
		closing = append(closing, '>')

		idx := bytes.Index(buf[end+1:], closing)
		if idx == -1 {
			return nil, buf
		}
		msgEnd := end + 1 + idx + len(closing)
		return buf[:msgEnd], buf[msgEnd:]
	}
}

// isOpeningTagName reports whether tok can start a document.
func isOpeningTagName(tok []byte) bool {
	switch tok[0] {
	case '/', '?', '!':
		return false
	}
	return true
}

// Framer accumulates stream bytes and yields complete documents.
//
// A Framer belongs to a single connection and a single goroutine; it is not
// safe for concurrent use.
type Framer struct {
	buf []byte
}

// Feed appends received bytes to the buffer.
func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// Next returns the next complete document, or false if more data is needed.
// The returned slice is a copy and stays valid after further Feed calls.
func (f *Framer) Next() ([]byte, bool) {
	doc, rest := NextDocument(f.buf)
	f.compact(rest)
	if doc == nil {
		return nil, false
	}
	return bytes.Clone(doc), true
}

// Buffered returns the number of unconsumed bytes.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Take removes and returns up to n bytes from the front of the buffer.
// The BLOB extractor uses it to claim payload bytes that arrived in the same
// read as the BLOB vector, so they are never framed as text.
func (f *Framer) Take(n int) []byte {
	if n > len(f.buf) {
		n = len(f.buf)
	}
	out := bytes.Clone(f.buf[:n])
	f.compact(f.buf[n:])
	return out
}

// compact moves rest to the start of the backing array so the buffer does
// not grow without bound on a long-lived connection.
func (f *Framer) compact(rest []byte) {
	n := copy(f.buf, rest)
	f.buf = f.buf[:n]
}
