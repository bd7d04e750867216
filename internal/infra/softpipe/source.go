package softpipe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/sysaudio/internal/domain/media"
)

// elementError attributes a failure to a pipeline element.
type elementError struct {
	element string
	err     error
}

func (e *elementError) Error() string {
	return fmt.Sprintf("%s: %v", e.element, e.err)
}

func (e *elementError) Unwrap() error {
	return e.err
}

// tag attributes err to element unless it is already attributed.
func tag(element string, err error) error {
	if err == nil {
		return nil
	}
	var ee *elementError
	if errors.As(err, &ee) {
		return err
	}
	return &elementError{element: element, err: err}
}

// elementOf returns the element err is attributed to, or fallback.
func elementOf(err error, fallback string) string {
	var ee *elementError
	if errors.As(err, &ee) {
		return ee.element
	}
	return fallback
}

// taggedReader attributes read errors other than EOF to an element.
type taggedReader struct {
	element string
	r       io.Reader
}

func (t taggedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = tag(t.element, err)
	}
	return n, err
}

// source is an opened source element.
type source struct {
	element string
	r       io.Reader
	// seeker is set when the source supports random access.
	seeker io.ReadSeeker
	size   int64
	closer io.Closer
}

func (s *source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func openFile(location string) (*source, error) {
	if location == "" {
		return nil, tag(media.ElementFileSource, ErrNoLocation)
	}
	f, err := os.Open(strings.TrimPrefix(location, "file://"))
	if err != nil {
		return nil, tag(media.ElementFileSource, err)
	}
	size := int64(-1)
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return &source{
		element: media.ElementFileSource,
		r:       taggedReader{element: media.ElementFileSource, r: f},
		seeker:  f,
		size:    size,
		closer:  f,
	}, nil
}

func openHTTP(ctx context.Context, client *http.Client, location string) (*source, error) {
	if location == "" {
		return nil, tag(media.ElementHTTPSource, ErrNoLocation)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, tag(media.ElementHTTPSource, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, tag(media.ElementHTTPSource, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_ = resp.Body.Close()
		return nil, tag(media.ElementHTTPSource, errors.Newf("GET %s: %s", location, resp.Status))
	}
	return &source{
		element: media.ElementHTTPSource,
		r:       taggedReader{element: media.ElementHTTPSource, r: resp.Body},
		size:    resp.ContentLength,
		closer:  resp.Body,
	}, nil
}

func openApp(app *appSource) *source {
	return &source{
		element: media.ElementAppSource,
		r:       taggedReader{element: media.ElementAppSource, r: app},
		size:    -1,
	}
}
