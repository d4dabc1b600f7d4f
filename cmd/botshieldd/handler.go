package main

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/fastpath"
	"github.com/northboundlabs/botshield/internal/middleware"
	"github.com/northboundlabs/botshield/internal/operation"
	"github.com/northboundlabs/botshield/internal/orchestrator"
	"github.com/northboundlabs/botshield/internal/persistence"
	"github.com/northboundlabs/botshield/internal/policy"
	"github.com/northboundlabs/botshield/internal/response"
	"github.com/northboundlabs/botshield/internal/signal"
)

// signatureHexLen truncates the fast path matcher's full HMAC-SHA256
// digest to match the glossary's "16-hex signature" convention; downstream
// keying (reputation, coordinator, cluster) only ever sees the truncated
// form, while fastpath.Store/MergeClientSide still key by the full digest
// internally for collision resistance.
const signatureHexLen = 16

const maxBodyPrefixBytes = 4096

// evaluationHandler builds a RequestSnapshot from the inbound request,
// runs it through the orchestrator, annotates the response with the
// verdict headers, enforces the resolved policy's action, and closes the
// operation out through response analysis and the composer.
func evaluationHandler(chain *middleware.Chain, matcher *fastpath.FastPathSignatureMatcher, orch *orchestrator.BlackboardOrchestrator, respCoord *response.Coordinator, composer *operation.Composer, recorder persistence.Recorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := chain.ClientIP(r)
		ua := r.Header.Get("User-Agent")
		sig := matcher.PrimaryHash(ip, ua)
		if len(sig) > signatureHexLen {
			sig = sig[:signatureHexLen]
		}

		bodyPrefix, _ := io.ReadAll(io.LimitReader(r.Body, maxBodyPrefixBytes))

		req := detector.RequestSnapshot{
			RequestID:   uuid.New().String(),
			Method:      r.Method,
			Path:        r.URL.Path,
			IP:          ip,
			UserAgent:   ua,
			Headers:     r.Header,
			Signature:   sig,
			ArrivedAt:   start,
			IsWebSocket: strings.EqualFold(r.Header.Get("Upgrade"), "websocket"),
			BodyPrefix:  bodyPrefix,
		}

		verdict := orch.DetectAsync(r.Context(), req, nil)
		middleware.WriteVerdictHeaders(w, verdict)

		analysisCtx := response.DefaultContext()
		if verdict.BotProbability >= 0.9 {
			analysisCtx = response.Escalate("bot probability crossed blocking threshold")
		}

		statusCode := http.StatusOK
		var respBody []byte
		switch verdict.Action {
		case policy.ActionBlock:
			statusCode = http.StatusForbidden
		case policy.ActionThrottle:
			statusCode = http.StatusTooManyRequests
			w.Header().Set("Retry-After", "2")
		case policy.ActionChallenge:
			statusCode = http.StatusUnauthorized
		}

		responseSink := signal.NewSink(64)
		decision := respCoord.Analyze(r.Context(), responseSink, analysisCtx, statusCode, w.Header(), respBody, verdict.BotProbability)
		middleware.WriteResponseActionHeader(w, decision)
		if decision.Body != nil {
			respBody = decision.Body
		}

		w.WriteHeader(statusCode)
		if len(respBody) > 0 {
			_, _ = w.Write(respBody)
		}

		summary := composer.Complete(operation.Input{
			Signature:      sig,
			RequestID:      req.RequestID,
			Path:           req.Path,
			Method:         req.Method,
			StatusCode:     statusCode,
			BotProbability: verdict.BotProbability,
			Confidence:     verdict.Confidence,
			ProcessingTime: time.Since(start),
			ContentClass:   "html",
			TransportClass: transportClass(req.IsWebSocket),
			RiskBand:       verdict.RiskBand,
		})

		go func() {
			_ = recorder.RecordOperation(r.Context(), summary)
		}()
	})
}

func transportClass(isWebSocket bool) string {
	if isWebSocket {
		return "websocket"
	}
	return "http"
}
