package tee

import (
	"bytes"
	"io"
	"net/http"
	"time"
)

// ResponseSaver is a wrapper around http.ResponseWriter that saves the response to a buffer.
// It optionally writes the response to the underlying http.ResponseWriter.
type ResponseSaver struct {
	rw           http.ResponseWriter
	b            *bytes.Buffer
	header       http.Header
	savedHeader  http.Header
	status       int
	wroteHeaders bool
	limit        int
	truncated    bool
	CreatedAt    time.Time
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	// remember that we wrote the headers
	t.wroteHeaders = true
	// set the status code so we can return it later
	t.status = statusCode
	// headers set after this point are not part of the response
	t.savedHeader = t.header.Clone()
	// write to underlying http.ResponseWriter if not nil
	if t.rw != nil {
		copyHeader(t.rw.Header(), t.header)
		t.rw.WriteHeader(statusCode)
	}
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	// write headers if not already written
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	// write to underlying http.ResponseWriter if not nil
	if t.rw != nil {
		t.rw.Write(b)
	}
	if t.truncated {
		return len(b), nil
	}
	// stop saving once over the limit, the response will not be stored anyway
	if t.limit > 0 && t.b.Len()+len(b) > t.limit {
		t.truncated = true
		t.b.Reset()
		return len(b), nil
	}
	// write to buffer and return written bytes
	return t.b.Write(b)
}

// Body returns the recorded response body.
func (t *ResponseSaver) Body() []byte {
	return t.b.Bytes()
}

// Truncated tells whether the body grew over the limit and was not saved.
func (t *ResponseSaver) Truncated() bool {
	return t.truncated
}

// Result returns the recorded response as an *http.Response for the given request.
func (t *ResponseSaver) Result(req *http.Request) *http.Response {
	header := t.savedHeader
	if header == nil {
		header = t.header.Clone()
	}
	status := t.status
	if status == 0 {
		status = http.StatusOK
	}
	body := t.Body()
	return &http.Response{
		Status:        http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// Updates returns a slice of the urls that should be updated as a result of the (write) request.
func (t *ResponseSaver) Updates() []string {
	return t.header.Values("Cache-Update")
}

// StatusCode returns the status code of the response.
func (t *ResponseSaver) StatusCode() int {
	return t.status
}

// NewResponseSaver returns a new ResponseSaver.
// If rw is not nil, the response will be written (tee'd) to it in addition to saving to buffer.
// An optional limit caps the number of body bytes saved.
func NewResponseSaver(w http.ResponseWriter, limit ...int) *ResponseSaver {
	rs := &ResponseSaver{
		CreatedAt: time.Now(),
		rw:        w,
		b:         &bytes.Buffer{},
		header:    http.Header{},
	}
	if len(limit) == 1 {
		rs.limit = limit[0]
	}
	return rs
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
