// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/alarm-escalator/pkg/alarm"
	"github.com/telekom/alarm-escalator/pkg/outcome"
)

// InvocationResponse is returned to the invoking platform.
type InvocationResponse struct {
	RequestID string            `json:"request_id"`
	Outcomes  []*outcome.Record `json:"outcomes"`
}

// Failed reports how many outcomes of the invocation failed.
func (r InvocationResponse) Failed() int {
	n := 0
	for _, rec := range r.Outcomes {
		if !rec.Result.Succeeded() {
			n++
		}
	}
	return n
}

// RequestID returns the Lambda request id carried by ctx or a fresh UUID.
func RequestID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}

// Invoke is the platform entry point. Every delivery in the payload gets
// exactly one outcome; an unreadable envelope yields a single
// Failed{malformed_input} outcome. Business failures never surface as an
// invocation error so the platform does not redeliver them.
func (h *Handler) Invoke(ctx context.Context, payload json.RawMessage) (InvocationResponse, error) {
	requestID := RequestID(ctx)
	resp := InvocationResponse{RequestID: requestID}

	deliveries, err := alarm.ParseEnvelope(payload, h.now())
	if err != nil {
		h.logger.Warn("rejecting unreadable envelope",
			zap.String("request_id", requestID),
			zap.String("error", err.Error()))
		deliveries = []alarm.Delivery{{Err: err, Raw: string(payload)}}
	}

	resp.Outcomes = make([]*outcome.Record, 0, len(deliveries))
	for _, d := range deliveries {
		resp.Outcomes = append(resp.Outcomes, h.Handle(ctx, d, requestID))
	}
	return resp, nil
}
