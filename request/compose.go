package request

// Message splitting for route notifications. A composed message carries many
// per-turn parts (text plus embedded images); transports cap both the
// serialized size and the number of attached objects, so the composer closes
// the running message and opens a continuation whenever the next part would
// blow either budget. Every part lands in exactly one message, a straddling
// part is carried over rather than duplicated or dropped, and identical
// input always splits at the same points.

// Resource is a named attachment referenced from message text.
type Resource struct {
	URI  string
	Data []byte
}

// Part is one unit of message content: a turn description with the images it
// references.
type Part struct {
	Text      []byte
	Resources []Resource
}

// size is the estimated serialized footprint of the part.
func (p *Part) size() int {
	n := len(p.Text)
	for _, res := range p.Resources {
		n += len(res.Data)
	}
	return n
}

// Message is one completed outbound message.
type Message struct {
	Body      []byte
	Resources []Resource
}

// Size is the estimated serialized size of the message.
func (m *Message) Size() int {
	n := len(m.Body)
	for _, res := range m.Resources {
		n += len(res.Data)
	}
	return n
}

// ComposerConfig carries the boilerplate and budgets for one composition.
type ComposerConfig struct {
	// Header opens the first message; RestartHeader opens every
	// continuation message.
	Header        []byte
	RestartHeader []byte

	// ContinuedFooter closes every message except the last, which gets
	// EndFooter.
	ContinuedFooter []byte
	EndFooter       []byte

	// MaxSize is the byte budget per message; zero means unbounded. A
	// single part that alone exceeds the budget is placed alone.
	MaxSize int

	// MaxParts caps the number of parts per message; zero means unbounded.
	MaxParts int
}

// Compose splits the parts into size-bounded messages. The split is
// deterministic for identical input.
func Compose(cfg ComposerConfig, parts []Part) []*Message {
	c := composer{cfg: cfg}
	c.open(cfg.Header)
	for i := range parts {
		c.add(&parts[i])
	}
	return c.close()
}

type composer struct {
	cfg ComposerConfig

	messages []*Message
	current  *Message
	seen     map[string]bool // resource URIs attached to the current message
	nparts   int
	size     int
}

func (c *composer) open(header []byte) {
	c.current = &Message{Body: append([]byte(nil), header...)}
	c.seen = make(map[string]bool)
	c.nparts = 0
	c.size = len(header) + c.footerReserve()
}

// footerReserve is the room kept for whichever footer closes the message.
// Which one applies is unknown until close time, so the budget assumes the
// larger.
func (c *composer) footerReserve() int {
	if len(c.cfg.ContinuedFooter) > len(c.cfg.EndFooter) {
		return len(c.cfg.ContinuedFooter)
	}
	return len(c.cfg.EndFooter)
}

// add appends a part, closing the running message first if the part would
// exceed either budget. The straddling part then seeds the continuation.
func (c *composer) add(p *Part) {
	if c.nparts > 0 && c.wouldOverflow(p) {
		c.continueMessage()
	}
	c.current.Body = append(c.current.Body, p.Text...)
	for _, res := range p.Resources {
		if c.seen[res.URI] {
			// Attached once per message, however often referenced.
			continue
		}
		c.seen[res.URI] = true
		c.current.Resources = append(c.current.Resources, res)
		c.size += len(res.Data)
	}
	c.size += len(p.Text)
	c.nparts++
}

func (c *composer) wouldOverflow(p *Part) bool {
	if c.cfg.MaxParts > 0 && c.nparts >= c.cfg.MaxParts {
		return true
	}
	if c.cfg.MaxSize > 0 && c.size+p.size() > c.cfg.MaxSize {
		return true
	}
	return false
}

// continueMessage closes the running message with the continued footer and
// opens the next one with the restart header.
func (c *composer) continueMessage() {
	c.current.Body = append(c.current.Body, c.cfg.ContinuedFooter...)
	c.messages = append(c.messages, c.current)
	c.open(c.cfg.RestartHeader)
}

// close seals the final message with the end footer and returns the run.
func (c *composer) close() []*Message {
	c.current.Body = append(c.current.Body, c.cfg.EndFooter...)
	c.messages = append(c.messages, c.current)
	messages := c.messages
	c.messages = nil
	c.current = nil
	return messages
}
