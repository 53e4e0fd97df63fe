package httpclient

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

// acceptEncoding lists the response encodings the handler can decode.
const acceptEncoding = "gzip, zstd"

// Compressor encodes a request body for one Content-Encoding token.
type Compressor interface {
	Encoding() string
	Compress(dst io.Writer, src []byte) error
}

// GzipCompressor encodes with gzip.
type GzipCompressor struct {
	// Level is a gzip compression level. Zero uses gzip.DefaultCompression.
	Level int
}

// Encoding implements Compressor.
func (GzipCompressor) Encoding() string { return "gzip" }

// Compress implements Compressor.
func (c GzipCompressor) Compress(dst io.Writer, src []byte) error {
	level := c.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	zw, err := gzip.NewWriterLevel(dst, level)
	if err != nil {
		return err
	}
	if _, err := zw.Write(src); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// ZstdCompressor encodes with Zstandard.
type ZstdCompressor struct{}

// Encoding implements Compressor.
func (ZstdCompressor) Encoding() string { return "zstd" }

// Compress implements Compressor.
func (ZstdCompressor) Compress(dst io.Writer, src []byte) error {
	zw, err := zstd.NewWriter(dst)
	if err != nil {
		return err
	}
	if _, err := zw.Write(src); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// CompressionOption configures the compression handler.
//
// Request bodies are encoded with each Compressor in order. If the server
// answers 415 Unsupported Media Type, the original body is sent once more
// uncompressed.
type CompressionOption struct {
	Enabled     bool
	Compressors []Compressor

	// fallback marks the uncompressed resend after a 415.
	fallback bool
}

// DefaultCompressionOption enables gzip request compression.
func DefaultCompressionOption() *CompressionOption {
	return &CompressionOption{
		Enabled:     true,
		Compressors: []Compressor{GzipCompressor{}},
	}
}

// Kind implements abstractions.RequestOption.
func (o *CompressionOption) Kind() abstractions.OptionKind {
	return abstractions.OptionKindCompression
}

func (o *CompressionOption) fallbackCopy() *CompressionOption {
	out := *o
	out.fallback = true
	return &out
}

// compressionHandler compresses request bodies and decodes encoded
// responses. It sits innermost so every resend by outer stages is compressed
// again.
type compressionHandler struct {
	next     Handler
	defaults *CompressionOption
	cfg      *internalConfig
	logger   zerolog.Logger
}

func newCompressionHandler(next Handler, cfg *internalConfig) *compressionHandler {
	return &compressionHandler{
		next:     next,
		defaults: cfg.Compression,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("handler", "compression").Logger(),
	}
}

func (h *compressionHandler) Handle(req *http.Request, opts abstractions.RequestOptions) (*http.Response, error) {
	opt := resolveOption(opts, abstractions.OptionKindCompression, h.defaults)
	if !opt.Enabled || opt.fallback {
		return h.next.Handle(req, opts)
	}

	// compressRequest consumes one-shot bodies, so decide this first.
	canFallback := rewindable(req)
	out, compressed, err := compressRequest(req, opt.Compressors)
	if err != nil {
		return nil, err
	}
	if out.Header.Get("Accept-Encoding") == "" {
		out.Header.Set("Accept-Encoding", acceptEncoding)
	}

	resp, err := h.next.Handle(out, opts)
	failed := responseOf(resp, err)
	if !compressed || failed == nil || failed.StatusCode != http.StatusUnsupportedMediaType {
		decodeResponse(failed)
		return resp, err
	}

	if !canFallback {
		h.logger.Debug().Msg("415 for compressed body that cannot be resent")
		decodeResponse(failed)
		return resp, err
	}
	original, cerr := cloneForResend(req)
	if cerr != nil {
		decodeResponse(failed)
		return resp, err
	}
	drainBody(failed)

	ctx := req.Context()
	h.logger.Debug().
		Str("encoding", out.Header.Get("Content-Encoding")).
		Msg("server rejected compressed body, resending uncompressed")
	trace.SpanFromContext(ctx).AddEvent("http.compression.fallback")
	h.cfg.Metrics.recordCompressionFallback(ctx, append(h.cfg.baseAttributes(),
		attribute.String("http.request.method", req.Method)))

	return h.Handle(original, opts.With(opt.fallbackCopy()))
}

// compressRequest returns a copy of req with its body encoded. compressed is
// false when there is nothing to encode.
func compressRequest(req *http.Request, compressors []Compressor) (*http.Request, bool, error) {
	if req.Body == nil || req.Body == http.NoBody || len(compressors) == 0 ||
		req.Header.Get("Content-Encoding") != "" {
		return req.Clone(req.Context()), false, nil
	}

	src := req.Body
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, false, err
		}
		src = body
	}
	raw, err := io.ReadAll(src)
	_ = src.Close()
	if err != nil {
		return nil, false, err
	}

	encodings := make([]string, 0, len(compressors))
	for _, c := range compressors {
		var buf bytes.Buffer
		if err := c.Compress(&buf, raw); err != nil {
			return nil, false, err
		}
		raw = buf.Bytes()
		encodings = append(encodings, c.Encoding())
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(raw))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	out.ContentLength = int64(len(raw))
	out.Header.Set("Content-Encoding", strings.Join(encodings, ", "))
	return out, true, nil
}

// decodeResponse replaces an encoded body with a lazily decoding reader.
func decodeResponse(resp *http.Response) {
	if resp == nil || resp.Body == nil || resp.Body == http.NoBody {
		return
	}

	var open func(io.Reader) (io.ReadCloser, error)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		open = func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) }
	case "zstd":
		open = func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		}
	default:
		return
	}

	resp.Body = &decodingBody{body: resp.Body, open: open}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
}

// decodingBody opens its decoder on first read, so empty bodies never fail.
type decodingBody struct {
	body io.ReadCloser
	open func(io.Reader) (io.ReadCloser, error)
	dec  io.ReadCloser
	err  error
}

func (b *decodingBody) Read(p []byte) (int, error) {
	if b.dec == nil && b.err == nil {
		b.dec, b.err = b.open(b.body)
	}
	if b.err != nil {
		return 0, b.err
	}
	return b.dec.Read(p)
}

func (b *decodingBody) Close() error {
	if b.dec != nil {
		_ = b.dec.Close()
	}
	return b.body.Close()
}
