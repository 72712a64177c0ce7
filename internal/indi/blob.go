package indi

import (
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxBLOBChunk caps a single read while receiving a raw payload.
const maxBLOBChunk = 64 * 1024

// blobTimestampLayout names saved files; millisecond precision keeps two
// frames from the same device in one second apart.
const blobTimestampLayout = "20060102_150405.000"

// BLOBHeader is the metadata carried by a setBLOBVector document.
type BLOBHeader struct {
	Device   string
	Property string
	Element  string
	Format   string
	Size     int
}

// ParseBLOBHeader reads device, property and the first oneBLOB member's
// format and size from a setBLOBVector element. Sizes above maxSize are
// rejected; maxSize <= 0 disables the limit.
func ParseBLOBHeader(el *Element, maxSize int) (BLOBHeader, error) {
	h := BLOBHeader{Device: el.Device(), Property: el.Name()}
	if h.Device == "" {
		return h, fmt.Errorf("%w: missing device", ErrInvalidBLOB)
	}

	for i := range el.Children {
		child := &el.Children[i]
		if child.Tag != tagOneBLOB {
			continue
		}
		size, err := strconv.Atoi(strings.TrimSpace(child.Attr("size")))
		if err != nil || size < 0 {
			return h, fmt.Errorf("%w: bad size %q", ErrInvalidBLOB, child.Attr("size"))
		}
		if maxSize > 0 && size > maxSize {
			return h, fmt.Errorf("%w: size %d exceeds limit %d", ErrInvalidBLOB, size, maxSize)
		}
		h.Element = child.Name()
		h.Format = child.Attr("format")
		h.Size = size
		return h, nil
	}
	return h, fmt.Errorf("%w: no oneBLOB member", ErrInvalidBLOB)
}

// stripBLOBPayload returns a copy of el without member text, so inline
// payloads never land in the Store.
func stripBLOBPayload(el *Element) *Element {
	out := *el
	out.Children = make([]Element, len(el.Children))
	for i, child := range el.Children {
		child.Text = ""
		out.Children[i] = child
	}
	return &out
}

// receiveBLOB reads the payload announced by el and saves it. Failures are
// logged and the reader returns to text framing.
func (c *Client) receiveBLOB(conn net.Conn, framer *Framer, el *Element) {
	h, err := ParseBLOBHeader(el, c.cfg.MaxBLOBSize)
	if err != nil {
		c.stats.blobsAborted.Add(1)
		c.metrics().BLOBAborted()
		c.log().Warn("ignoring BLOB", "error", err)
		return
	}

	var data []byte
	switch c.cfg.BLOBFraming {
	case FramingInline:
		data, err = decodeInlineBLOB(el)
		if err == nil && c.cfg.MaxBLOBSize > 0 && len(data) > c.cfg.MaxBLOBSize {
			err = fmt.Errorf("%w: decoded %d bytes exceeds limit %d", ErrInvalidBLOB, len(data), c.cfg.MaxBLOBSize)
		}
	default:
		data, err = c.readRawBLOB(conn, framer, h.Size)
	}
	if err != nil {
		c.stats.blobsAborted.Add(1)
		c.metrics().BLOBAborted()
		c.log().Warn("BLOB transfer failed", "device", h.Device, "property", h.Property, "error", err)
		return
	}

	path, jobID, err := c.saveBLOB(h, data)
	if err != nil {
		c.stats.blobsAborted.Add(1)
		c.metrics().BLOBAborted()
		c.log().Error("saving BLOB failed", "device", h.Device, "error", err)
		return
	}

	c.stats.blobsSaved.Add(1)
	c.metrics().BLOBCompleted(len(data))
	c.log().Info("BLOB saved", "device", h.Device, "path", path, "bytes", len(data))
	c.notify(Event{
		Kind:      EventBLOBSaved,
		Timestamp: c.now(),
		Device:    h.Device,
		Property:  h.Property,
		Path:      path,
		Format:    h.Format,
		Size:      len(data),
		JobID:     jobID,
	})
}

// readRawBLOB collects exactly size bytes: first whatever the framer already
// buffered, then directly from conn with the relaxed BLOB deadline. The short
// read deadline is restored on return. The buffer grows with the bytes that
// actually arrive, never with the declared size alone.
func (c *Client) readRawBLOB(conn net.Conn, framer *Framer, size int) ([]byte, error) {
	data := make([]byte, 0, min(size, maxBLOBChunk))
	data = append(data, framer.Take(size)...)
	if len(data) == size {
		return data, nil
	}

	defer func() {
		_ = conn.SetReadDeadline(c.now().Add(c.cfg.ReadTimeout))
	}()

	chunk := make([]byte, min(maxBLOBChunk, size-len(data)))
	for len(data) < size {
		if err := conn.SetReadDeadline(c.now().Add(c.cfg.BLOBTimeout)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIncompleteTransfer, err)
		}

		want := min(len(chunk), size-len(data))
		n, err := conn.Read(chunk[:want])
		data = append(data, chunk[:n]...)
		if n > 0 {
			c.touch()
		}
		if len(data) == size {
			return data, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: received %d of %d bytes: %w", ErrIncompleteTransfer, len(data), size, err)
		}
	}
	return data, nil
}

// decodeInlineBLOB base64-decodes the first oneBLOB member's text.
func decodeInlineBLOB(el *Element) ([]byte, error) {
	for i := range el.Children {
		child := &el.Children[i]
		if child.Tag != tagOneBLOB {
			continue
		}
		encoded := strings.Join(strings.Fields(child.Text), "")
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBLOB, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: no oneBLOB member", ErrInvalidBLOB)
}

// BLOBFileName builds "<timestamp>_<device>.<format>" with spaces in the
// device name replaced by underscores.
func BLOBFileName(stamp, device, format string) string {
	name := stamp + "_" + strings.ReplaceAll(device, " ", "_")
	format = strings.TrimPrefix(strings.TrimSpace(format), ".")
	if format == "" {
		return name
	}
	return name + "." + format
}

// saveBLOB writes data under the images directory and the current job's
// subfolder, then records it as the last saved artifact.
//
// Returns:
//   - string: Path relative to the images directory, slash separated
//   - string: Job ID of the imaging job in progress, if any
//   - error: Any filesystem error
func (c *Client) saveBLOB(h BLOBHeader, data []byte) (string, string, error) {
	c.mu.RLock()
	subfolder, jobID := c.subfolder, c.jobID
	c.mu.RUnlock()

	name := BLOBFileName(c.now().Format(blobTimestampLayout), h.Device, h.Format)
	rel := filepath.Join(subfolder, name)
	full := filepath.Join(c.cfg.ImagesDir, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", "", fmt.Errorf("creating BLOB directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o640); err != nil { //nolint:gosec // path built from sanitised parts
		return "", "", fmt.Errorf("writing BLOB: %w", err)
	}

	rel = filepath.ToSlash(rel)
	c.mu.Lock()
	c.lastSaved = rel
	c.mu.Unlock()
	return rel, jobID, nil
}
