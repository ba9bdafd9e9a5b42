package openai

import (
	"bufio"
	"io"
	"strings"

	"github.com/yukin371/palaver/internal/core"
)

// sseStream reads server-sent events off a chat-completions response
// body, one JSON chunk per "data:" line, until the [DONE] sentinel.
type sseStream struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	current core.Chunk
	err     error
	done    bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{
		body:   body,
		reader: bufio.NewReader(body),
	}
}

func (s *sseStream) Next() bool {
	if s.done {
		return false
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.err = err
			}
			s.done = true
			return false
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			s.done = true
			return false
		}
		s.current = core.Chunk{Raw: []byte(data)}
		return true
	}
}

func (s *sseStream) Current() core.Chunk { return s.current }

func (s *sseStream) Err() error { return s.err }

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}
