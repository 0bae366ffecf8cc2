package io

import (
	"io"
)

// CountingReader calls OnRead with the size of every non-empty read.
type CountingReader struct {
	R      io.Reader
	OnRead func(n int)
}

func NewCountingReader(r io.Reader, onRead func(n int)) *CountingReader {
	return &CountingReader{R: r, OnRead: onRead}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	if n > 0 && c.OnRead != nil {
		c.OnRead(n)
	}
	return n, err
}
