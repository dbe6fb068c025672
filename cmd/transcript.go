package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/nextlevelbuilder/followup/internal/bus"
)

// transcriptLine is one JSONL record: an inbound message plus an optional
// pause before it is delivered.
type transcriptLine struct {
	bus.InboundMessage
	DelayMs int `json:"delay_ms,omitempty"`
}

func (l transcriptLine) delay() time.Duration {
	return time.Duration(max(0, l.DelayMs)) * time.Millisecond
}

// readTranscript parses a JSONL transcript. Blank lines and lines starting
// with "#" are skipped.
func readTranscript(r io.Reader) ([]transcriptLine, error) {
	var out []transcriptLine
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var tl transcriptLine
		if err := json.Unmarshal([]byte(line), &tl); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		out = append(out, tl)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return out, nil
}

// loadTranscript reads path, or stdin for "-". Files ending in .zst or .gz
// are decompressed.
func loadTranscript(path string) ([]transcriptLine, error) {
	if path == "" || path == "-" {
		return readTranscript(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open zstd transcript: %w", err)
		}
		defer zr.Close()
		return readTranscript(zr)
	case ".gz":
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip transcript: %w", err)
		}
		defer gr.Close()
		return readTranscript(gr)
	default:
		return readTranscript(f)
	}
}
