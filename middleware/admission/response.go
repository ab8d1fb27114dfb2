package admission

import (
	"bytes"
	"net/http"

	"admission-gateway/middleware/admission/domain"

	"github.com/vmihailenco/msgpack/v5"
)

// headers que não fazem sentido reenviar a partir do cache
var uncachedHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"Date",
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	"X-Cache",
}

// responseRecorder captura a resposta do handler para virar um CachedResponse.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *responseRecorder) response() domain.CachedResponse {
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	h := r.header.Clone()
	for _, k := range uncachedHeaders {
		h.Del(k)
	}
	return domain.CachedResponse{Status: status, Header: h, Body: r.body.Bytes()}
}

// cacheable: só 2xx sem Set-Cookie vai para o cache compartilhado.
func (r *responseRecorder) cacheable() bool {
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	return status >= 200 && status < 300 && len(r.header.Values("Set-Cookie")) == 0
}

func encodeResponse(resp domain.CachedResponse) ([]byte, error) {
	return msgpack.Marshal(&resp)
}

func decodeResponse(raw []byte) (domain.CachedResponse, error) {
	var resp domain.CachedResponse
	err := msgpack.Unmarshal(raw, &resp)
	return resp, err
}

func writeResponse(w http.ResponseWriter, resp domain.CachedResponse, headOnly bool) {
	dst := w.Header()
	for k, vs := range resp.Header {
		dst[k] = append([]string(nil), vs...)
	}
	w.WriteHeader(resp.Status)
	if !headOnly {
		_, _ = w.Write(resp.Body)
	}
}
