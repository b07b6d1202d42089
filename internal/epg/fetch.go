// Package epg implements component E: per-source XMLTV fetch, streaming
// parse, and a dedicated per-source programme database. Decompression is
// grounded on the teacher's internal/plex/label_proxy.go gzip handling
// (sniff Content-Encoding, fall back to magic bytes), extended with brotli
// for sources that serve .br XMLTV dumps; xz is not decoded.
package epg

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/snapetech/stalkerproxy/internal/httpclient"
)

const userAgent = "StalkerProxy/1.0 (+epg-fetch)"

var gzipMagic = []byte{0x1f, 0x8b}

// fetchToTempFile downloads url (following redirects, the default for
// http.Client) and spools the decompressed body to a temp file, so the
// caller can stream-decode it twice (channels pass, then programmes pass)
// without holding the whole document in memory.
func fetchToTempFile(ctx context.Context, client *http.Client, url string) (path string, cleanup func(), err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return "", nil, fmt.Errorf("epg: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", nil, fmt.Errorf("epg: fetch %s: HTTP %d", url, resp.StatusCode)
	}

	body, err := decompress(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("epg: decompress %s: %w", url, err)
	}

	f, err := os.CreateTemp("", "epg-*.xml")
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("epg: spool %s: %w", url, err)
	}
	name := f.Name()
	f.Close()
	return name, func() { os.Remove(name) }, nil
}

// decompress picks a reader based on the Content-Encoding header, falling
// back to sniffing gzip's magic bytes for servers that compress without
// declaring it.
func decompress(contentEncoding string, r io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		return gzip.NewReader(r)
	case "br":
		return brotli.NewReader(r), nil
	}

	buffered := bufReader{r: r}
	head, err := buffered.peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if bytes.Equal(head, gzipMagic) {
		return gzip.NewReader(buffered.Reader())
	}
	return buffered.Reader(), nil
}

// bufReader lets decompress peek at the first bytes of r without losing
// them for the real read.
type bufReader struct {
	r    io.Reader
	head []byte
}

func (b *bufReader) peek(n int) ([]byte, error) {
	b.head = make([]byte, n)
	read, err := io.ReadFull(b.r, b.head)
	b.head = b.head[:read]
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return b.head, err
}

func (b *bufReader) Reader() io.Reader {
	return io.MultiReader(bytes.NewReader(b.head), b.r)
}
