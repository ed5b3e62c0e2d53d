package decision

import (
	"context"
	"log/slog"
	"time"

	"github.com/tidelane/convocore/internal/profile"
)

// FanOutResult joins the concurrent decision and extraction calls.
// Decision is always present; Patch is nil when extraction produced
// nothing or missed the fan-out deadline.
type FanOutResult struct {
	Decision *Result
	Patch    *profile.ExtractionPatch
}

// FanOut runs the decision and extraction calls concurrently. The join
// waits unconditionally for the decision and up to timeout for extraction;
// a late extraction is treated as absent for this turn and retried
// naturally on a later message. The abandoned call's context is cancelled
// so it can release resources, though correctness does not depend on it.
func FanOut(ctx context.Context, agent *Agent, extractor Extractor, req Request, timeout time.Duration, log *slog.Logger) FanOutResult {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	extractCtx, cancelExtract := context.WithCancel(ctx)

	// The extraction budget runs from fan-out launch, not from the moment
	// the decision lands.
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	patchCh := make(chan *profile.ExtractionPatch, 1)
	if extractor == nil {
		patchCh <- nil
	} else {
		go func() {
			patch, err := extractor.Extract(extractCtx, req.Message, req.ProfileSummary)
			if err != nil {
				log.Warn("extraction.skipped", "reason", "extractor_error", "error", err)
				patchCh <- nil
				return
			}
			if patch != nil {
				patch.Confidence = profile.ClampConfidence(patch.Confidence)
			}
			patchCh <- patch
		}()
	}

	// The decision result is mandatory; extraction only affects durable
	// profile data, never this turn's reply.
	dec := agent.Decide(ctx, req)

	var patch *profile.ExtractionPatch
	select {
	case patch = <-patchCh: // already done, take it even past the deadline
	default:
		select {
		case patch = <-patchCh:
		case <-deadline.C:
			log.Info("extraction.skipped", "reason", "fanout_timeout")
		case <-ctx.Done():
		}
	}
	cancelExtract()

	return FanOutResult{Decision: dec, Patch: patch}
}
