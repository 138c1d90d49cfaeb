// Package icy implements Shoutcast/Icecast in-band metadata for HTTP audio streams.
//
// A client opts in with "Icy-MetaData: 1". The server answers with an icy-metaint
// header and then, after every metaint bytes of audio, writes one metadata block: a
// length byte L followed by L*16 bytes of NUL-padded text. L=0 means "no change".
package icy

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultMetaInt is the audio byte interval between metadata blocks.
const DefaultMetaInt = 8192

// maxBlockPayload is the largest payload a single length byte can describe.
const maxBlockPayload = 255 * 16

var emptyBlock = []byte{0x00}

// BuildBlock encodes text as an ICY metadata block with 16-byte padding.
// Text longer than 4080 bytes is truncated on a rune boundary.
func BuildBlock(text string) []byte {
	if text == "" {
		return []byte{0x00}
	}

	payload := []byte(text)
	if len(payload) > maxBlockPayload {
		payload = payload[:maxBlockPayload]
		for len(payload) > 0 && !utf8.Valid(payload) {
			payload = payload[:len(payload)-1]
		}
	}

	blocks := (len(payload) + 15) / 16
	pad := blocks*16 - len(payload)

	var buf bytes.Buffer
	buf.Grow(1 + blocks*16)
	buf.WriteByte(byte(blocks))
	buf.Write(payload)
	buf.Write(make([]byte, pad))
	return buf.Bytes()
}

var quoteEscaper = strings.NewReplacer(`'`, `\'`)

// FormatMetadata renders StreamTitle and, when url is set, StreamUrl.
func FormatMetadata(title, url string) string {
	var b strings.Builder
	b.WriteString("StreamTitle='")
	b.WriteString(quoteEscaper.Replace(title))
	b.WriteString("';")
	if url != "" {
		b.WriteString("StreamUrl='")
		b.WriteString(quoteEscaper.Replace(url))
		b.WriteString("';")
	}
	return b.String()
}

// Injector interleaves metadata blocks into one listener's audio stream.
// Block positions are counted from the injector's own start. An Injector is not
// safe for concurrent use.
type Injector struct {
	metaint   int
	untilMeta int
	block     []byte
}

// NewInjector returns an injector with the given interval. Non-positive values
// select DefaultMetaInt.
func NewInjector(metaint int) *Injector {
	if metaint <= 0 {
		metaint = DefaultMetaInt
	}
	return &Injector{metaint: metaint, untilMeta: metaint, block: emptyBlock}
}

// MetaInt returns the interval advertised in icy-metaint.
func (i *Injector) MetaInt() int { return i.metaint }

// SetMetadata replaces the block emitted at the next boundary. The byte count
// toward that boundary is not affected.
func (i *Injector) SetMetadata(title, url string) {
	i.block = BuildBlock(FormatMetadata(title, url))
}

// Clear makes the next blocks empty.
func (i *Injector) Clear() { i.block = emptyBlock }

// Process returns chunk with metadata blocks inserted at every metaint boundary
// it crosses. Chunks of any size are handled.
func (i *Injector) Process(chunk []byte) []byte {
	if len(chunk) == 0 {
		return nil
	}

	out := make([]byte, 0, len(chunk)+(len(chunk)/i.metaint+1)*len(i.block))
	for len(chunk) > 0 {
		n := min(i.untilMeta, len(chunk))
		out = append(out, chunk[:n]...)
		chunk = chunk[n:]
		i.untilMeta -= n
		if i.untilMeta == 0 {
			out = append(out, i.block...)
			i.untilMeta = i.metaint
		}
	}
	return out
}

// SetHeaders writes the ICY response headers.
func SetHeaders(h http.Header, name, genre string, bitrate, metaint int) {
	br := strconv.Itoa(bitrate)
	h.Set("icy-metaint", strconv.Itoa(metaint))
	h.Set("icy-name", name)
	h.Set("icy-genre", genre)
	h.Set("icy-br", br)
	h.Set("icy-pub", "1")
	h.Set("icy-audio-info", "bitrate="+br)
}

// Wanted reports whether the request opted in to in-band metadata.
func Wanted(r *http.Request) bool {
	return strings.TrimSpace(r.Header.Get("Icy-MetaData")) == "1"
}
