package positions

import (
	"github.com/cryptoladder/engine/internal/exchangeapi"
	"github.com/cryptoladder/engine/internal/job"
	"github.com/cryptoladder/engine/internal/stepstore"
)

// cancelPosition is the resolve-exception compensator: it cancels
// whatever orders/position the orchestrator had already placed before
// failing, keyed by the same arguments.position_id the orchestrator
// carried.
type cancelPosition struct{ deps Deps }

func (j *cancelPosition) ComputeApiable(jc *job.Context) (stepstore.Arguments, error) {
	canonical := argString(jc.Step.Args, ArgCanonical)
	client, err := j.deps.client(canonical)
	if err != nil {
		return nil, job.Permanent(err.Error(), nil)
	}
	resp, err := client.Do(jc.Ctx, exchangeapi.Request{
		EndpointSignature: "POST /position/cancel",
		Method:            "POST",
		AccountKey:        argString(jc.Step.Args, ArgAccountID),
	})
	if err != nil {
		return nil, job.Retryable("cancelling position", err)
	}
	if resp.StatusCode >= 500 {
		return nil, job.Retryable("exchange returned server error", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, job.Permanent("exchange rejected position cancel", nil)
	}
	return stepstore.Arguments{
		"position_id": argUint(jc.Step.Args, ArgPositionID),
		"cancelled":   true,
	}, nil
}
