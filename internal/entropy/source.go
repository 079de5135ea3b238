package entropy

import (
	"crypto/rand"
	"io"
	"os"
	"sync"

	"github.com/yanun0323/errors"
)

// Source is a named stream of random bytes.
type Source interface {
	io.Reader
	Name() string
}

type cryptoSource struct{}

// NewCryptoSource returns the operating system CSPRNG.
func NewCryptoSource() Source {
	return cryptoSource{}
}

func (cryptoSource) Name() string { return "crypto/rand" }

func (cryptoSource) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// DeviceSource reads a hardware RNG character device such as /dev/hwrng.
type DeviceSource struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// NewDeviceSource creates a source that opens path on first read.
func NewDeviceSource(path string) *DeviceSource {
	return &DeviceSource{path: path}
}

func (s *DeviceSource) Name() string { return "device:" + s.path }

func (s *DeviceSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		f, err := os.Open(s.path)
		if err != nil {
			return 0, errors.Wrap(err, "open entropy device").With("path", s.path)
		}
		s.f = f
	}
	return s.f.Read(p)
}

// Close releases the device handle.
func (s *DeviceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

type readerSource struct {
	name string
	r    io.Reader
}

// NewReaderSource wraps an arbitrary reader, mainly for replaying fixed byte sequences.
func NewReaderSource(name string, r io.Reader) Source {
	return &readerSource{name: name, r: r}
}

func (s *readerSource) Name() string { return s.name }

func (s *readerSource) Read(p []byte) (int, error) {
	return s.r.Read(p)
}
