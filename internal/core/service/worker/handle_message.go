package worker

import (
	"back-to-origin/internal/core/domain"
	"context"
	"encoding/json"
	"fmt"
)

func (w *workerService) HandleMessage(ctx context.Context, data []byte) error {
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return fmt.Errorf("%w: could not unmarshal task: %v", domain.ErrMalformedMessage, err)
	}
	if err := task.Validate(); err != nil {
		return err
	}

	switch task.Kind {
	case domain.JobKindSingle:
		return w.CopySingle(ctx, *task.Single)
	default:
		return w.CopyPart(ctx, *task.Part)
	}
}
