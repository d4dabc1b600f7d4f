package response

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/northboundlabs/botshield/internal/signal"
)

// Action is what the coordinator decided to do with the outgoing response
// in Blocking mode (spec §4.10: "allowed actions: allow, mask PII, replace
// with honeypot content, block").
type Action string

const (
	ActionAllow            Action = "allow"
	ActionMaskPII          Action = "mask_pii"
	ActionReplaceHoneypot  Action = "replace_honeypot"
	ActionBlock            Action = "block"
)

// HoneypotBody is substituted for the real response when the coordinator
// decides to feed a suspected bot decoy content instead of the real page.
var HoneypotBody = []byte(`{"status":"ok"}`)

// Decision is the coordinator's verdict for one response.
type Decision struct {
	Action     Action
	Body       []byte // replacement body; nil means unchanged
	Score      float64
	Pattern    string
	PIIMasked  []string
	TimedOut   bool
}

// Config carries the coordinator's tunables (mirrors config.ResponseConfig).
type Config struct {
	MaxBufferBytes        int
	MaxBlockingDurationMs int
}

// Coordinator runs response-side analysis for one operation.
type Coordinator struct {
	cfg Config
}

// New builds a coordinator with the given tunables.
func New(cfg Config) *Coordinator {
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = 64 * 1024
	}
	if cfg.MaxBlockingDurationMs <= 0 {
		cfg.MaxBlockingDurationMs = 20
	}
	return &Coordinator{cfg: cfg}
}

// Analyze runs Blocking-mode analysis: status code, headers, and a bounded
// body prefix, within the coordinator's hard duration budget. The caller
// passes the already-truncated-to-MaxBufferBytes body prefix; Analyze
// truncates defensively anyway.
func (c *Coordinator) Analyze(ctx context.Context, sink *signal.Sink, analysisCtx AnalysisContext, statusCode int, headers map[string][]string, bodyPrefix []byte, priorBotProbability float64) Decision {
	budget := time.Duration(c.cfg.MaxBlockingDurationMs) * time.Millisecond
	deadlineCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	result := make(chan Decision, 1)
	go func() {
		result <- c.analyze(sink, analysisCtx, statusCode, headers, bodyPrefix, priorBotProbability)
	}()

	select {
	case d := <-result:
		return d
	case <-deadlineCtx.Done():
		log.Warn().Str("reason", "response_analysis_timeout").Int("budget_ms", c.cfg.MaxBlockingDurationMs).Msg("response analysis exceeded budget")
		return Decision{Action: ActionAllow, TimedOut: true}
	}
}

// AnalyzeAsync runs the same pipeline without a blocking budget, raising
// signals into the operation sink before it closes (spec §4.10 Async mode:
// "fire-and-forget analysis"). It does not return a Decision the caller can
// act on since the response has already been sent.
func (c *Coordinator) AnalyzeAsync(sink *signal.Sink, analysisCtx AnalysisContext, statusCode int, headers map[string][]string, bodyPrefix []byte, priorBotProbability float64) {
	c.analyze(sink, analysisCtx, statusCode, headers, bodyPrefix, priorBotProbability)
}

func (c *Coordinator) analyze(sink *signal.Sink, analysisCtx AnalysisContext, statusCode int, headers map[string][]string, bodyPrefix []byte, priorBotProbability float64) Decision {
	if len(bodyPrefix) > c.cfg.MaxBufferBytes {
		bodyPrefix = bodyPrefix[:c.cfg.MaxBufferBytes]
	}

	sink.Raise(signal.NewKey("response", "status"), signal.OfInt(int64(statusCode)), "response-coordinator")

	score := statusScore(statusCode)

	var decision Decision
	if pattern, found := detectErrorPattern(bodyPrefix); found {
		sink.Raise(signal.NewKey("response", "pattern"), signal.OfEnum(pattern), "response-coordinator")
		score += 0.3
		decision.Pattern = pattern
	}

	masked, kinds := maskPII(bodyPrefix)
	if len(kinds) > 0 {
		for _, kind := range kinds {
			sink.Raise(signal.NewKey("response", "pii_masking", kind), signal.Of(true), "response-coordinator")
		}
		score += 0.1 * float64(len(kinds))
	}

	// Round away float noise so component scores that sum to a threshold
	// (0.4 + 0.3 + 0.1) compare equal to it.
	score = clamp01(math.Round(score*1e6) / 1e6)
	sink.Raise(signal.NewKey("response", "score"), signal.OfFloat(score), "response-coordinator")

	decision.Score = score
	decision.PIIMasked = kinds

	switch {
	case analysisCtx.Mode != ModeBlocking:
		decision.Action = ActionAllow
	case priorBotProbability >= 0.9 && analysisCtx.Thoroughness == ThoroughnessDeep:
		decision.Action = ActionReplaceHoneypot
		decision.Body = HoneypotBody
	case len(kinds) > 0 && priorBotProbability >= 0.5:
		decision.Action = ActionMaskPII
		decision.Body = masked
	case score >= 0.8:
		decision.Action = ActionBlock
	default:
		decision.Action = ActionAllow
	}

	return decision
}

func statusScore(statusCode int) float64 {
	switch {
	case statusCode >= 500:
		return 0.4
	case statusCode == 429:
		return 0.2
	case statusCode == 403 || statusCode == 401:
		return 0.15
	case statusCode >= 400:
		return 0.1
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
