package files

// capBuffer captures writes up to a fixed limit and marks truncation beyond it.
// Writes never fail so a chatty subprocess is not killed by a full buffer.
type capBuffer struct {
	b         []byte
	cap       int
	truncated bool
}

func newCapBuffer(limit int) *capBuffer {
	return &capBuffer{b: make([]byte, 0, min(limit, 4096)), cap: limit}
}

func (c *capBuffer) Write(p []byte) (int, error) {
	remain := c.cap - len(c.b)
	if remain <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return len(p), nil
	}
	write := p
	if len(p) > remain {
		write = p[:remain]
		c.truncated = true
	}
	c.b = append(c.b, write...)
	return len(p), nil
}

func (c *capBuffer) String() string { return string(c.b) }
