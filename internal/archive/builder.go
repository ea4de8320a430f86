package archive

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/WillB97/kit-web-ui/internal/data"
)

const (
	logEntryName = "log.txt"
	imageStamp   = "2006-01-02T15-04-05.000"
	bundleStamp  = "2006-01-02T15-04-05"
	fallbackSlug = "run"
)

// RunSource provides a run's recorded history; satisfied by the run
// aggregator service.
type RunSource interface {
	Logs(ctx context.Context, principal, runUUID string, upTo time.Time) ([]data.LogEntry, error)
	Images(ctx context.Context, principal, runUUID string, upTo time.Time) ([]data.ImageEntry, error)
	LastStateTime(ctx context.Context, principal, runUUID string, upTo time.Time) (time.Time, bool, error)
}

// Builder assembles a run's logs and images into downloadable
// artifacts. An empty run still yields a valid artifact.
type Builder struct {
	source RunSource
}

func NewBuilder(source RunSource) *Builder {
	return &Builder{source: source}
}

// PlainTextLog renders the run's log messages newline-joined, in
// timestamp order, with a trailing newline when any line exists.
func (b *Builder) PlainTextLog(ctx context.Context, principal, runUUID string, upTo time.Time) ([]byte, error) {
	logs, err := b.source.Logs(ctx, principal, runUUID, upTo)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, l := range logs {
		sb.WriteString(l.Message)
		sb.WriteByte('\n')
	}
	return []byte(sb.String()), nil
}

// Bundle writes a zip archive holding log.txt and one jpg per camera
// frame, named by event timestamp. Frames whose payload does not decode
// are skipped with a warning rather than failing the whole bundle.
func (b *Builder) Bundle(ctx context.Context, w io.Writer, principal, runUUID string, upTo time.Time) error {
	logText, err := b.PlainTextLog(ctx, principal, runUUID, upTo)
	if err != nil {
		return err
	}
	images, err := b.source.Images(ctx, principal, runUUID, upTo)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	f, err := zw.Create(logEntryName)
	if err != nil {
		return fmt.Errorf("create log.txt: %w", err)
	}
	if _, err := f.Write(logText); err != nil {
		return fmt.Errorf("write log.txt: %w", err)
	}

	seen := make(map[string]int)
	for _, img := range images {
		raw, err := DecodeImage(img.Data)
		if err != nil {
			log.Printf("[WARN] Archive: skipping undecodable image at %s in run %s: %v",
				img.Date.Format(time.RFC3339), runUUID, err)
			continue
		}

		name := fmt.Sprintf("img-%s.jpg", img.Date.UTC().Format(imageStamp))
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("img-%s.%d.jpg", img.Date.UTC().Format(imageStamp), n)
		} else {
			seen[name] = 1
		}

		f, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := f.Write(raw); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	return zw.Close()
}

// BundleName derives the download filename from the tenant name and the
// newest state event in scope; a run with no state event gets a generic
// suffix.
func (b *Builder) BundleName(ctx context.Context, tenantName, principal, runUUID string, upTo time.Time) (string, error) {
	slug := strings.ReplaceAll(tenantName, " ", "_")

	last, ok, err := b.source.LastStateTime(ctx, principal, runUUID, upTo)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("%s-%s.zip", slug, fallbackSlug), nil
	}
	return fmt.Sprintf("%s-%s.zip", slug, last.UTC().Format(bundleStamp)), nil
}

// DecodeImage turns a stored camera payload into jpg bytes. Payloads
// end in standard base64, optionally behind a "data:...;base64," header
// that has to be stripped.
func DecodeImage(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if idx := strings.Index(value, "base64,"); idx >= 0 {
		value = value[idx+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}
	return raw, nil
}
