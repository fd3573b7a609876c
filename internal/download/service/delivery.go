package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aussiebroadwan/droplock/pkg/slogx"
)

// ErrFileMissing means the protected file is absent on disk. Server
// misconfiguration: surfaced as a generic message, never the path.
var ErrFileMissing = errors.New("protected file missing")

const (
	// DefaultChunkThreshold is the size at or above which the transfer
	// switches to chunked streaming with bounded memory.
	DefaultChunkThreshold = 100 * 1024 * 1024

	// DefaultChunkSize is the per-chunk read size for large transfers.
	DefaultChunkSize = 8 * 1024
)

// FileDelivery streams the single protected file to a verified request. The
// path is fixed at configuration time and never derived from request input,
// which rules out path traversal outright.
type FileDelivery struct {
	// Path is the on-disk location of the protected file.
	Path string

	// Filename is the attachment name announced to the client.
	Filename string

	// ChunkThreshold and ChunkSize tune the size-adaptive transfer. Zero
	// values select the defaults.
	ChunkThreshold int64
	ChunkSize      int64
}

func (d *FileDelivery) chunkThreshold() int64 {
	if d.ChunkThreshold > 0 {
		return d.ChunkThreshold
	}
	return DefaultChunkThreshold
}

func (d *FileDelivery) chunkSize() int64 {
	if d.ChunkSize > 0 {
		return d.ChunkSize
	}
	return DefaultChunkSize
}

// Available reports whether the protected file exists on disk.
func (d *FileDelivery) Available() bool {
	info, err := os.Stat(d.Path)
	return err == nil && info.Mode().IsRegular()
}

// Serve streams the file to w. The caller must have fully verified the
// request first; no store resources may be held across this call since large
// transfers can run for minutes.
func (d *FileDelivery) Serve(w http.ResponseWriter, r *http.Request) error {
	log := slogx.FromContext(r.Context())

	info, err := os.Stat(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrFileMissing
		}
		return fmt.Errorf("failed to stat protected file: %w", err)
	}

	f, err := os.Open(d.Path)
	if err != nil {
		return fmt.Errorf("failed to open protected file: %w", err)
	}
	defer f.Close()

	size := info.Size()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+d.Filename+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Transfer-Encoding", "binary")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Accept-Ranges", "bytes")

	// Large transfers must not be cut off by the server's write deadline.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("could not clear write deadline", slog.Any("error", err))
	}

	start := time.Now()

	if size < d.chunkThreshold() {
		// Small file: one pass.
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("transfer failed: %w", err)
		}
	} else {
		// Large file: fixed-size chunks, flushed as they go, so memory stays
		// bounded regardless of file size.
		if err := d.serveChunked(w, rc, f); err != nil {
			return err
		}
	}

	log.Info("file delivered",
		slog.Int64("bytes", size),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

func (d *FileDelivery) serveChunked(w io.Writer, rc *http.ResponseController, f *os.File) error {
	chunk := d.chunkSize()
	for {
		_, err := io.CopyN(w, f, chunk)
		if err == nil || errors.Is(err, io.EOF) {
			if flushErr := rc.Flush(); flushErr != nil && !errors.Is(flushErr, http.ErrNotSupported) {
				return fmt.Errorf("flush failed: %w", flushErr)
			}
			if err != nil {
				return nil // EOF: transfer complete
			}
			continue
		}
		return fmt.Errorf("chunked transfer failed: %w", err)
	}
}
