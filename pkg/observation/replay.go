package observation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxLineSize bounds a single JSON line; inline base64 stills can be large.
const maxLineSize = 16 << 20

// replayLine is the on-disk form of one tick.
type replayLine struct {
	Observation
	Face      *bool  `json:"face,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
}

// ReplaySource plays back pre-computed observations from a JSON-lines file,
// one line per tick. A blank line, an object without a bounding box, or
// {"face": false} is a tick without a face.
type ReplaySource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	baseDir string
	line    int

	// Frame size applied to lines that omit it.
	FrameWidth  int
	FrameHeight int
}

// OpenReplay opens a replay file. Relative image_path values resolve
// against the file's directory.
func OpenReplay(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	src := NewReplay(f, filepath.Dir(path))
	src.closer = f
	return src, nil
}

// NewReplay reads observations from r.
func NewReplay(r io.Reader, baseDir string) *ReplaySource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &ReplaySource{scanner: scanner, baseDir: baseDir}
}

// Next returns the next observation, nil for a no-face tick, or ErrExhausted.
func (s *ReplaySource) Next(ctx context.Context) (*Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read replay line %d: %w", s.line+1, err)
		}
		return nil, ErrExhausted
	}
	s.line++

	text := strings.TrimSpace(s.scanner.Text())
	if text == "" {
		return nil, nil
	}

	var rl replayLine
	if err := json.Unmarshal([]byte(text), &rl); err != nil {
		return nil, fmt.Errorf("invalid replay line %d: %w", s.line, err)
	}

	if rl.Face != nil && !*rl.Face {
		return nil, nil
	}
	if rl.Box.Width <= 0 || rl.Box.Height <= 0 {
		return nil, nil
	}

	obs := rl.Observation
	if obs.FrameWidth == 0 {
		obs.FrameWidth = s.FrameWidth
	}
	if obs.FrameHeight == 0 {
		obs.FrameHeight = s.FrameHeight
	}

	if len(obs.Image) == 0 && rl.ImagePath != "" {
		path := rl.ImagePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("replay line %d: failed to read image: %w", s.line, err)
		}
		obs.Image = data
	}

	return &obs, nil
}

// Close releases the underlying file, if any.
func (s *ReplaySource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
