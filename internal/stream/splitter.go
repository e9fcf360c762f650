package stream

import "strings"

// Part is one ordered piece of a split stream: either text or an event.
type Part struct {
	Text  string
	Event *Event
}

// Splitter separates events from text incrementally. Chunks may cut a
// block anywhere; the unfinished tail is held until the next Feed.
// A Splitter is not safe for concurrent use.
type Splitter struct {
	pending string
}

// Feed consumes a chunk and returns the parts that are complete so far,
// in stream order.
func (s *Splitter) Feed(chunk string) []Part {
	data := s.pending + chunk
	s.pending = ""

	var parts []Part
	emitText := func(t string) {
		if t == "" {
			return
		}
		// Coalesce adjacent text
		if n := len(parts); n > 0 && parts[n-1].Event == nil {
			parts[n-1].Text += t
			return
		}
		parts = append(parts, Part{Text: t})
	}

	for {
		i := strings.Index(data, openTag)
		if i < 0 {
			keep := partialSuffix(data, openTag)
			emitText(data[:len(data)-keep])
			s.pending = data[len(data)-keep:]
			return parts
		}
		emitText(data[:i])

		rest := data[i+len(openTag):]
		j := strings.Index(rest, closeTag)
		if j < 0 {
			s.pending = data[i:]
			return parts
		}
		if ev, ok := decode(rest[:j]); ok {
			parts = append(parts, Part{Event: &ev})
		}
		data = rest[j+len(closeTag):]
	}
}

// Flush returns whatever is still buffered as plain text. An unterminated
// block is not an event.
func (s *Splitter) Flush() string {
	out := s.pending
	s.pending = ""
	return out
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	max := len(tag) - 1
	if len(s) < max {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
