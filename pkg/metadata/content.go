package metadata

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

const DefaultMimetype = "application/octet-stream"

// Content is either an in-memory byte slice or a seekable stream.
// Measuring a stream never changes its read position.
type Content struct {
	data   []byte
	stream io.ReadSeeker
}

func Bytes(data []byte) Content {
	return Content{data: data}
}

func Stream(stream io.ReadSeeker) Content {
	return Content{stream: stream}
}

func (c Content) IsStream() bool {
	return c.stream != nil
}

// Reader returns a reader over the full content. Streams are rewound first.
func (c Content) Reader() (io.Reader, error) {
	if c.stream == nil {
		return bytes.NewReader(c.data), nil
	}
	if _, err := c.stream.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind stream: %w", err)
	}
	return c.stream, nil
}

// Size measures the content. Streams are measured by seeking to the end and
// restoring the previous position.
func (c Content) Size() (int64, error) {
	if c.stream == nil {
		return int64(len(c.data)), nil
	}

	var size int64
	err := c.preserve(func() error {
		end, err := c.stream.Seek(0, io.SeekEnd)
		size = end
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure stream: %w", err)
	}
	return size, nil
}

// Hash returns the hex encoded md5 of the content. Streams are hashed
// incrementally from the start.
func (c Content) Hash() (string, error) {
	if c.stream == nil {
		sum := md5.Sum(c.data)
		return hex.EncodeToString(sum[:]), nil
	}

	hash := md5.New()
	err := c.preserve(func() error {
		if _, err := c.stream.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := io.Copy(hash, c.stream)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to hash stream: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// DetectMimetype resolves the mimetype from the path extension first and
// falls back to sniffing the leading bytes of the content.
func DetectMimetype(path string, content Content) string {
	if ext := filepath.Ext(path); ext != "" {
		if detected := mime.TypeByExtension(ext); detected != "" {
			return detected
		}
	}

	if content.stream == nil {
		if len(content.data) == 0 {
			return DefaultMimetype
		}
		return mimetype.Detect(content.data).String()
	}

	detected := DefaultMimetype
	_ = content.preserve(func() error {
		if _, err := content.stream.Seek(0, io.SeekStart); err != nil {
			return err
		}
		m, err := mimetype.DetectReader(content.stream)
		if err != nil {
			return err
		}
		detected = m.String()
		return nil
	})
	return detected
}

func (c Content) preserve(fn func() error) error {
	position, err := c.stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	fnErr := fn()
	if _, err := c.stream.Seek(position, io.SeekStart); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
