package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/northboundlabs/botshield/internal/orchestrator"
	"github.com/northboundlabs/botshield/internal/response"
)

// Header names forwarded to downstream services (spec §6).
const (
	HeaderBotDetected     = "X-Bot-Detected"
	HeaderBotProbability  = "X-Bot-Detection-Probability"
	HeaderBotConfidence   = "X-Bot-Confidence"
	HeaderBotType         = "X-Bot-Type"
	HeaderBotName         = "X-Bot-Name"
	HeaderBotCountry      = "X-Bot-Detection-Country"
	HeaderBotRiskBand     = "X-Bot-Detection-RiskBand"
	HeaderBotReasons      = "X-Bot-Detection-Reasons"
	HeaderBotProcessingMs = "X-Bot-Detection-ProcessingMs"
	HeaderBotResponseAction = "X-Bot-Response-Action"
	HeaderRequestID       = "X-Request-ID"
)

const maxReasons = 5

// WriteVerdictHeaders forwards the orchestrator's verdict as the response
// header contract named in spec §6.
func WriteVerdictHeaders(w http.ResponseWriter, v orchestrator.Verdict) {
	h := w.Header()
	h.Set(HeaderBotDetected, strconv.FormatBool(v.BotProbability >= 0.5))
	h.Set(HeaderBotProbability, strconv.FormatFloat(v.BotProbability, 'f', 4, 64))
	h.Set(HeaderBotConfidence, strconv.FormatFloat(v.Confidence, 'f', 4, 64))
	h.Set(HeaderBotType, string(v.BotType))
	h.Set(HeaderBotName, v.BotName)
	h.Set(HeaderBotCountry, v.Country)
	h.Set(HeaderBotRiskBand, string(v.RiskBand))
	h.Set(HeaderBotProcessingMs, strconv.FormatFloat(float64(v.ProcessingTime.Microseconds())/1000.0, 'f', 2, 64))

	reasons := v.Reasons
	if len(reasons) > maxReasons {
		reasons = reasons[:maxReasons]
	}
	if encoded, err := json.Marshal(reasons); err == nil {
		h.Set(HeaderBotReasons, string(encoded))
	}
}

// WriteResponseActionHeader records the response coordinator's action, only
// when it engaged PII masking or a honeypot substitution (spec §6: "action
// name if PII masking / honeypot engaged").
func WriteResponseActionHeader(w http.ResponseWriter, decision response.Decision) {
	switch decision.Action {
	case response.ActionMaskPII, response.ActionReplaceHoneypot:
		w.Header().Set(HeaderBotResponseAction, string(decision.Action))
	}
}
