// Package upload splits a payload into fixed-size parts and sends them to
// the store as one multipart upload session.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/eteran/granary/internal/store"
)

// DefaultPartSize is the size of every part except possibly the last.
const DefaultPartSize int64 = 30 << 20

type state int

const (
	stateInitiated state = iota
	stateUploading
	stateCompleting
	stateComplete
	stateAborted
)

func (s state) String() string {
	switch s {
	case stateInitiated:
		return "initiated"
	case stateUploading:
		return "uploading"
	case stateCompleting:
		return "completing"
	case stateComplete:
		return "complete"
	case stateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Option func(*Uploader)

// WithPartSize sets the part size. Non-positive values are ignored.
func WithPartSize(size int64) Option {
	return func(u *Uploader) {
		if size > 0 {
			u.partSize = size
		}
	}
}

// WithConcurrency sets how many parts may be in flight at once. Each part
// holds one buffer of the part size while it is being sent.
func WithConcurrency(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.concurrency = n
		}
	}
}

type Uploader struct {
	conn        store.Connector
	partSize    int64
	concurrency int
}

func New(conn store.Connector, opts ...Option) *Uploader {
	u := &Uploader{
		conn:        conn,
		partSize:    DefaultPartSize,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Result describes a completed upload.
type Result struct {
	Bucket   string       `json:"bucket"`
	Key      string       `json:"key"`
	UploadID string       `json:"uploadId"`
	ETag     string       `json:"etag"`
	Size     int64        `json:"size"`
	Parts    []store.Part `json:"parts"`
}

// PartCount returns the number of parts a payload of size bytes is split
// into. An empty payload is still sent as a single empty part.
func PartCount(size int64, partSize int64) int {
	if size <= 0 {
		return 1
	}
	return int((size + partSize - 1) / partSize)
}

// Upload writes size bytes from r to bucket/object, overwriting any existing
// object. When r implements io.ReaderAt every part reads its own range by
// offset; otherwise parts are read from r in order and a stream that ends
// early fails with store.ErrReadPosition.
//
// If any part or the completion fails the session is aborted and the error
// names the failing part.
func (u *Uploader) Upload(ctx context.Context, key store.Key, bucket string, object string, r io.Reader, size int64) (Result, error) {
	if size < 0 {
		return Result{}, fmt.Errorf("%w: negative payload size %d", store.ErrInvalidArgument, size)
	}

	dp, err := u.conn.Connect(key)
	if err != nil {
		return Result{}, err
	}

	op := "upload " + bucket + "/" + object
	total := PartCount(size, u.partSize)

	uploadID, err := dp.NewMultipartUpload(ctx, bucket, object)
	if err != nil {
		return Result{}, &store.StepError{Op: op, Step: "initiate upload", Err: err}
	}

	logger := slog.With("bucket", bucket, "key", object, "uploadId", uploadID)
	logger.Debug("Upload state changed", "state", stateInitiated, "size", humanize.IBytes(uint64(size)), "parts", total)

	parts, err := u.sendParts(ctx, dp, logger, op, bucket, object, uploadID, r, size, total)
	if err != nil {
		u.abort(ctx, dp, logger, bucket, object, uploadID)
		return Result{}, err
	}

	logger.Debug("Upload state changed", "state", stateCompleting)
	slices.SortFunc(parts, func(a, b store.Part) int { return a.Number - b.Number })

	etag, err := dp.CompleteMultipartUpload(ctx, bucket, object, uploadID, parts)
	if err != nil {
		u.abort(ctx, dp, logger, bucket, object, uploadID)
		return Result{}, &store.StepError{Op: op, Step: "complete upload", Err: err}
	}

	logger.Info("Uploaded object",
		"state", stateComplete,
		"size", humanize.IBytes(uint64(size)),
		"parts", total,
		"etag", etag,
	)

	return Result{
		Bucket:   bucket,
		Key:      object,
		UploadID: uploadID,
		ETag:     etag,
		Size:     size,
		Parts:    parts,
	}, nil
}

func (u *Uploader) sendParts(ctx context.Context, dp store.DataPlane, logger *slog.Logger, op string, bucket string, object string, uploadID string, r io.Reader, size int64, total int) ([]store.Part, error) {
	parts := make([]store.Part, total)
	ra, positional := r.(io.ReaderAt)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	for i := range total {
		if gctx.Err() != nil {
			break
		}

		offset := int64(i) * u.partSize
		length := min(u.partSize, size-offset)
		buf := make([]byte, length)

		var n int
		var err error
		if positional {
			n, err = ra.ReadAt(buf, offset)
			if n == len(buf) {
				err = nil
			}
		} else {
			n, err = io.ReadFull(r, buf)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = fmt.Errorf("%w: wanted %d bytes at offset %d, got %d", store.ErrReadPosition, length, offset, n)
			}
			readErr := &store.StepError{Op: op, Step: "read part", Index: i + 1, Total: total, Err: err}
			// Parts already in flight are left to finish so the session
			// can be aborted cleanly.
			if waitErr := g.Wait(); waitErr != nil {
				return nil, waitErr
			}
			return nil, readErr
		}

		number := i + 1
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			logger.Debug("Upload state changed", "state", stateUploading, "part", number, "of", total)
			part, err := dp.UploadPart(gctx, bucket, object, uploadID, number, bytes.NewReader(buf), length)
			if err != nil {
				return &store.StepError{Op: op, Step: "upload part", Index: number, Total: total, Err: err}
			}
			parts[number-1] = part
			logger.Debug("Uploaded part", "part", number, "of", total, "size", humanize.IBytes(uint64(length)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return parts, nil
}

// abort discards the session. It runs even when ctx has been cancelled, and
// its own failure is only logged.
func (u *Uploader) abort(ctx context.Context, dp store.DataPlane, logger *slog.Logger, bucket string, object string, uploadID string) {
	if err := dp.AbortMultipartUpload(context.WithoutCancel(ctx), bucket, object, uploadID); err != nil {
		logger.Warn("Failed to abort upload", "error", err)
		return
	}
	logger.Info("Upload state changed", "state", stateAborted)
}
