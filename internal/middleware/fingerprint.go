package middleware

import (
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/northboundlabs/botshield/internal/fastpath"
)

const maxFingerprintBodyBytes = 16 * 1024

// FingerprintHandler implements POST /api/v1/bot-detection/client-fingerprint
// (spec §4.12, §6): it reads the X-Signature-Id header and a JSON body of
// canvas/webgl/audio hashes plus plugin/font lists, and backfills the fast
// path matcher's client-side factors for that signature.
func FingerprintHandler(matcher *fastpath.FastPathSignatureMatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		signatureID := r.Header.Get("X-Signature-Id")
		if signatureID == "" {
			http.Error(w, "missing X-Signature-Id", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxFingerprintBodyBytes+1))
		if err != nil || len(body) > maxFingerprintBodyBytes {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if !gjson.ValidBytes(body) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		parsed := gjson.ParseBytes(body)
		var plugins, fonts []string
		parsed.Get("plugins").ForEach(func(_, v gjson.Result) bool {
			plugins = append(plugins, v.String())
			return true
		})
		parsed.Get("fonts").ForEach(func(_, v gjson.Result) bool {
			fonts = append(fonts, v.String())
			return true
		})

		factors := fastpath.ClientSideFactors{
			Canvas:  parsed.Get("canvas").String(),
			WebGL:   parsed.Get("webgl").String(),
			Audio:   parsed.Get("audio").String(),
			Plugins: strings.Join(plugins, ","),
			Fonts:   strings.Join(fonts, ","),
		}

		matcher.MergeClientSideBySignature(signatureID, factors)
		w.WriteHeader(http.StatusNoContent)
	}
}
