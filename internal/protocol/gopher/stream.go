package gopher

import (
	"errors"
	"io"
	"os"
	"strings"
)

// ChunkSize is the largest file body chunk handed to a connection at once.
const ChunkSize = 1024

// Source produces the response body one chunk at a time. Next returns io.EOF
// when nothing remains; any other error aborts the response. The set of
// implementations is closed: file, directory and error responses.
type Source interface {
	Next() ([]byte, error)
	Close() error
	Kind() Kind
	source()
}

// Advertise is the host and port written into directory menu lines.
type Advertise struct {
	Host string
	Port int
}

func (a Advertise) withDefaults() Advertise {
	if a.Host == "" {
		a.Host = DefaultHost
	}
	if a.Port == 0 {
		a.Port = DefaultPort
	}
	return a
}

// Open turns a resolution into a response source. Failures to open or read
// the target become error responses rather than errors, so the returned
// Source is never nil.
func Open(res Resolution, adv Advertise) Source {
	switch res.Kind {
	case KindDirectory:
		d, err := os.Open(res.Path)
		if err != nil {
			return NewErrorResponse(ItemInfo, errorText(err))
		}
		return &directoryStream{dir: d, adv: adv.withDefaults()}

	case KindFile:
		f, err := os.Open(res.Path)
		if err != nil {
			return NewErrorResponse(ItemError, errorText(err))
		}
		stream := &fileStream{file: f, buf: make([]byte, ChunkSize)}
		if err := stream.fill(); err != nil {
			_ = f.Close()
			return NewErrorResponse(ItemError, errorText(err))
		}
		return stream

	default:
		return NewErrorResponse(res.ErrType, res.Message)
	}
}

// fileStream reads a regular file in ChunkSize pieces. The first chunk is
// read when the stream is opened.
type fileStream struct {
	file     *os.File
	buf      []byte
	buffered int
	primed   bool
}

func (s *fileStream) fill() error {
	n, err := s.file.Read(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	s.buffered = n
	s.primed = true
	return nil
}

func (s *fileStream) Next() ([]byte, error) {
	if !s.primed {
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
	s.primed = false
	if s.buffered == 0 {
		return nil, io.EOF
	}
	return s.buf[:s.buffered], nil
}

func (s *fileStream) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStream) Kind() Kind { return KindFile }
func (s *fileStream) source()    {}

// directoryStream yields one menu line per visible entry, in the order the
// operating system enumerates them.
type directoryStream struct {
	dir *os.File
	adv Advertise
}

func (s *directoryStream) Next() ([]byte, error) {
	if s.dir == nil {
		return nil, io.EOF
	}
	for {
		entries, err := s.dir.ReadDir(1)
		if len(entries) == 0 || err != nil {
			_ = s.Close()
			if err == nil || errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		name := entries[0].Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		return FileEntry(name, s.adv.Host, s.adv.Port), nil
	}
}

func (s *directoryStream) Close() error {
	if s.dir == nil {
		return nil
	}
	err := s.dir.Close()
	s.dir = nil
	return err
}

func (s *directoryStream) Kind() Kind { return KindDirectory }
func (s *directoryStream) source()    {}

// errorResponse is a single pre-formatted error item.
type errorResponse struct {
	line []byte
	sent bool
}

// NewErrorResponse builds a source that writes one error item and ends.
func NewErrorResponse(t ItemType, msg string) Source {
	return &errorResponse{line: ErrorItem(t, msg)}
}

func (s *errorResponse) Next() ([]byte, error) {
	if s.sent {
		return nil, io.EOF
	}
	s.sent = true
	return s.line, nil
}

func (s *errorResponse) Close() error { return nil }
func (s *errorResponse) Kind() Kind   { return KindError }
func (s *errorResponse) source()      {}
