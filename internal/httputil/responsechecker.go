package httputil

import (
	"fmt"
	"io"
	"net/http"

	"github.com/resf/apollo"
)

// CheckResponse takes a http.Response and a variadic of ints representing
// acceptable http status codes. The error returned is of kind
// [apollo.ErrFetch] and will attempt to include some content from the
// server's response.
func CheckResponse(resp *http.Response, acceptableCodes ...int) error {
	acceptable := false
	for _, code := range acceptableCodes {
		if resp.StatusCode == code {
			acceptable = true
			break
		}
	}
	if !acceptable {
		msg := fmt.Sprintf("unexpected status code: %s", resp.Status)
		if limitBody, err := io.ReadAll(io.LimitReader(resp.Body, 256)); err == nil {
			msg = fmt.Sprintf("unexpected status code: %s (body starts: %q)", resp.Status, limitBody)
		}
		return &apollo.Error{Kind: apollo.ErrFetch, Message: msg}
	}
	return nil
}
