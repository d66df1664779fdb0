package dispatch

import (
	"back-to-origin/internal/core/domain"
	"context"
	"encoding/json"
	"fmt"
)

func (d *dispatchService) HandleMessage(ctx context.Context, data []byte) error {
	var req domain.BackfillRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: could not unmarshal backfill request: %v", domain.ErrMalformedMessage, err)
	}
	return d.Dispatch(ctx, req)
}
