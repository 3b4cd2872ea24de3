package sink

import (
	"context"
	"errors"

	"github.com/agentforge/telemetry/pkg/monitor/model"
)

// Outcome distinguishes full success, a success envelope carrying
// per-item rejections, and outright failure. Partial is deliberately
// kept separate from Success so partial failures are never folded into
// a bare success flag.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// ErrPermanent marks delivery errors that must not be retried, such as
// authentication failures and other 4xx-class rejections. Wrap with
// fmt.Errorf("%w: ...", ErrPermanent).
var ErrPermanent = errors.New("permanent delivery error")

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// TelemetrySink is the collaborator boundary to an observability
// backend. Send consumes the batch; implementations must not retain it
// after returning. A non-nil error implies OutcomeFailure.
type TelemetrySink interface {
	Name() string
	Send(ctx context.Context, batch []model.Envelope) (Outcome, error)
}
