package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sample is an image/label pair read from a WebDataset shard.
type Sample struct {
	Shard string
	Key   string
	Image []byte
	Label int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// StreamShard streams paired samples from the shard at path. Members sharing a
// basename (000123.png + 000123.cls) form one sample; other extensions are
// skipped. Both channels are closed when the shard is exhausted.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Sample, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		if err := readShard(ctx, path, pendingCap, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func readShard(ctx context.Context, path string, pendingCap int, out chan<- Sample) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	pending := make(pairs)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar %s: %w", path, err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(hdr.Name)
		ext := strings.ToLower(filepath.Ext(name))
		key := strings.TrimSuffix(name, ext)

		switch ext {
		case ".jpg", ".jpeg", ".png":
			data, err := io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("read image %s: %w", name, err)
			}
			pending.get(key).image = data
		case ".cls":
			label, err := readLabel(tr)
			if err != nil {
				return fmt.Errorf("parse label %s: %w", name, err)
			}
			pending.get(key).label = &label
		default:
			continue
		}

		if len(pending) > pendingCap {
			return ErrPendingOverflow
		}

		if part := pending[key]; part.ready() {
			delete(pending, key)
			sample := Sample{Shard: path, Key: key, Image: part.image, Label: *part.label}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- sample:
			}
		}
	}

	if len(pending) > 0 {
		return fmt.Errorf("%s: %d samples incomplete", path, len(pending))
	}
	return nil
}

func readLabel(r io.Reader) (int, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(payload)))
}

type partial struct {
	image []byte
	label *int
}

func (p *partial) ready() bool {
	return p != nil && len(p.image) > 0 && p.label != nil
}

type pairs map[string]*partial

func (p pairs) get(key string) *partial {
	part := p[key]
	if part == nil {
		part = &partial{}
		p[key] = part
	}
	return part
}
