package api

import (
	"net/http"

	"github.com/ignite/pixelrelay/internal/metrics"
)

// HandlePixel handles GET /api/v1/pixel.gif?d=<base64 json> and the
// disguised {prefix}/p.gif. It is the last-resort transport, so it always
// answers the image and never reports admission errors.
func (h *Handlers) HandlePixel(w http.ResponseWriter, r *http.Request) {
	defer writePixel(w)

	if !h.authorized(r) {
		metrics.IngestRejections.WithLabelValues("UNAUTHORIZED").Inc()
		return
	}
	d := r.URL.Query().Get("d")
	if d == "" {
		return
	}
	raw, err := decodeBase64(d)
	if err != nil {
		metrics.IngestRejections.WithLabelValues("BAD_REQUEST").Inc()
		return
	}
	body, err := parseEvents(raw)
	if err != nil {
		metrics.IngestRejections.WithLabelValues("BAD_REQUEST").Inc()
		return
	}

	meta := requestMeta(r, "pixel")
	if body.single != nil {
		if _, err := h.admitter.Admit(r.Context(), *body.single, meta); err != nil {
			_, code, _ := classify(err)
			metrics.IngestRejections.WithLabelValues(code).Inc()
		}
		return
	}
	if len(body.batch) == 0 || len(body.batch) > h.maxBatch {
		metrics.IngestRejections.WithLabelValues("BATCH_TOO_LARGE").Inc()
		return
	}
	result := h.admitter.AdmitBatch(r.Context(), body.batch, meta)
	for _, rej := range result.Rejected {
		_, code, _ := classify(rej.Err)
		metrics.IngestRejections.WithLabelValues(code).Inc()
	}
}

func writePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(transparentGIF)
}

var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3b,
}
