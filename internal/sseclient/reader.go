// Package sseclient reads server-sent event streams produced by the stream
// service. It is used by the load tool and by integration checks.
package sseclient

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Frame is one dispatched block of an event stream.
type Frame struct {
	Kind    string
	Data    string
	Comment string
	Retry   time.Duration
}

// Ping reports whether the frame is a keepalive comment.
func (f Frame) Ping() bool {
	return f.Kind == "" && f.Data == "" && f.Comment == "ping"
}

// Reader splits a stream into frames on blank lines.
type Reader struct {
	sc *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{sc: sc}
}

// Next returns the next frame, or io.EOF once the stream ends cleanly. A
// partial frame at the end of the stream is discarded.
func (r *Reader) Next() (Frame, error) {
	var (
		f     Frame
		lines int
	)
	for r.sc.Scan() {
		line := r.sc.Text()
		if line == "" {
			if lines == 0 {
				continue
			}
			return f, nil
		}
		lines++
		if strings.HasPrefix(line, ":") {
			f.Comment = strings.TrimPrefix(line, ":")
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.Kind = value
		case "data":
			if f.Data != "" {
				f.Data += "\n"
			}
			f.Data += value
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil {
				f.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
	if err := r.sc.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}
