package httpmw

import (
	"bytes"
	"net/http"

	"github.com/danschultzer/idempotency-plug/types"
)

// recorder is a write-through http.ResponseWriter that keeps a copy of the
// status, headers and body while streaming to the client.
type recorder struct {
	http.ResponseWriter

	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newRecorder(w http.ResponseWriter) *recorder {
	return &recorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(p)

	return r.ResponseWriter.Write(p)
}

// response snapshots what was sent to the client.
func (r *recorder) response() types.Response {
	return types.Response{
		Status: r.status,
		Header: r.ResponseWriter.Header().Clone(),
		Body:   append([]byte(nil), r.body.Bytes()...),
	}
}
