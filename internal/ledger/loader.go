package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"time"
)

// Load reads a beancount file and every file it includes into a snapshot.
// Any problem anywhere fails the whole load with a *LoadError.
func Load(ctx context.Context, path string) (*Snapshot, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve ledger path: %w", err)
	}

	p := newParser()
	h := sha256.New()
	queue := []string{root}
	seen := make(map[string]bool)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file := queue[0]
		queue = queue[1:]
		if seen[file] {
			continue
		}
		seen[file] = true

		data, err := os.ReadFile(file)
		if err != nil {
			if file == root {
				return nil, fmt.Errorf("read ledger: %w", err)
			}
			p.problems = append(p.problems, Problem{File: file, Msg: err.Error()})
			continue
		}
		writeChunk(h, file, data)
		p.parseFile(file, bytes.NewReader(data))
		queue = append(queue, p.takeIncludes()...)
	}

	return p.snapshot(root, hex.EncodeToString(h.Sum(nil)))
}

// Parse reads a single in-memory ledger. Include directives are rejected
// because there is no directory to resolve them against.
func Parse(name string, data []byte) (*Snapshot, error) {
	p := newParser()
	p.parseFile(name, bytes.NewReader(data))
	if inc := p.takeIncludes(); len(inc) > 0 {
		p.problems = append(p.problems, Problem{File: name, Msg: "include is not supported for in-memory ledgers"})
	}
	h := sha256.New()
	writeChunk(h, name, data)
	return p.snapshot(name, hex.EncodeToString(h.Sum(nil)))
}

func (p *parser) snapshot(source, checksum string) (*Snapshot, error) {
	if len(p.problems) > 0 {
		return nil, &LoadError{Problems: p.problems}
	}
	c := p.out
	c.Source = source
	c.Checksum = checksum
	c.LoadedAt = time.Now().UTC()
	return NewSnapshot(c), nil
}

// writeChunk hashes a file name with its contents so that moving a block
// between included files still changes the checksum.
func writeChunk(h hash.Hash, name string, data []byte) {
	fmt.Fprintf(h, "%s\x00%d\x00", filepath.Base(name), len(data))
	h.Write(data)
}
