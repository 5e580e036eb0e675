package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	responseTimeHeaderName = "Pagecache-Response-Time"
	requestTimeHeaderName  = "Pagecache-Request-Time"
)

type TimedResponse struct {
	Response *http.Response
	// The value of the clock at the time of the request that resulted in the stored response.
	// Needed for age calculation.
	RequestTime time.Time
	// The value of the clock at the time the response was received.
	// Needed for age calculation.
	ResponseTime time.Time
}

// Age returns how long ago the response was received from the origin, as seen at now.
func (t TimedResponse) Age(now time.Time) time.Duration {
	age := now.Sub(t.ResponseTime)
	if age < 0 {
		return 0
	}
	return age
}

// Encode converts a timed response to the string stored in the cache.
// It is the HTTP/1.1 representation of the response, with the timing in extra headers.
// The response body can still be read after encoding.
func Encode(sRes TimedResponse) (string, error) {
	res := sRes.Response
	if res == nil {
		return "", fmt.Errorf("no response to encode")
	}
	if res.ProtoMajor == 0 {
		res.ProtoMajor, res.ProtoMinor = 1, 1
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}

	res.Header.Set(responseTimeHeaderName, strconv.FormatInt(sRes.ResponseTime.Unix(), 10))
	res.Header.Set(requestTimeHeaderName, strconv.FormatInt(sRes.RequestTime.Unix(), 10))
	bts, err := responseToBytes(res)
	// remove the extra headers just in case
	res.Header.Del(responseTimeHeaderName)
	res.Header.Del(requestTimeHeaderName)

	return string(bts), err
}

// Decode converts a stored string back to a timed response.
func Decode(s string) (TimedResponse, error) {
	sRes := TimedResponse{}
	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(s)), nil)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	resTimeInt, err := strconv.ParseInt(res.Header.Get(responseTimeHeaderName), 10, 64)
	if err != nil {
		return sRes, err
	}
	reqTimeInt, err := strconv.ParseInt(res.Header.Get(requestTimeHeaderName), 10, 64)
	if err != nil {
		return sRes, err
	}
	sRes.ResponseTime = time.Unix(resTimeInt, 0)
	sRes.RequestTime = time.Unix(reqTimeInt, 0)
	// delete extra headers
	sRes.Response.Header.Del(responseTimeHeaderName)
	sRes.Response.Header.Del(requestTimeHeaderName)
	return sRes, nil
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	var body []byte
	if res.Body != nil {
		var err error
		body, err = io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, err
		}
	}
	// set response body back
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))

	// write response to buffer
	buf := &bytes.Buffer{}
	clone := *res
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.TransferEncoding = nil
	if err := clone.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
