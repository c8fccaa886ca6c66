package workerpool

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// maxFrameSize bounds a single message; a larger length prefix means the
// stream is corrupt.
const maxFrameSize = 256 << 20

// ErrFrameTooLarge is returned when a length prefix exceeds maxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// Request asks a worker to extract one file.
type Request struct {
	Path     string `msgpack:"path"`
	FileType string `msgpack:"file_type"`
}

// Response is the worker's answer to one Request.
type Response struct {
	Units []types.Unit `msgpack:"units"`
	Error string       `msgpack:"error,omitempty"`
}

// writeFrame writes v as a 4-byte big-endian length followed by its msgpack
// encoding.
func writeFrame(w io.Writer, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return ErrFrameTooLarge
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// readFrame reads one frame into v. A clean end of stream before the length
// prefix returns io.EOF.
func readFrame(r io.Reader, v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// Serve is the worker loop: it answers requests from r on w until r is
// exhausted or ctx is done.
func Serve(ctx context.Context, r io.Reader, w io.Writer, ex Extractor) error {
	in := bufio.NewReader(r)
	out := bufio.NewWriter(w)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var req Request
		if err := readFrame(in, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		var resp Response
		units, err := ex.ExtractAll(req.Path, req.FileType)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Units = units
		}
		if err := writeFrame(out, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}
