package engine

import (
	"context"
	"log/slog"
)

// Worker drives instances whose ids arrive on queue until ctx is cancelled.
func Worker(ctx context.Context, id int, machine *InstanceMachine, queue <-chan string) {
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Worker stopping", "worker_id", id)
			return
		case instanceID := <-queue: // blocks until a job arrives
			slog.InfoContext(ctx, "Worker starting instance", "worker_id", id, "instance_id", instanceID)
			inst, err := machine.Run(ctx, instanceID)
			if err != nil {
				slog.ErrorContext(ctx, "Worker run failed", "worker_id", id, "instance_id", instanceID, "error", err)
				continue
			}
			slog.InfoContext(ctx, "Worker finished instance", "worker_id", id, "instance_id", instanceID, "status", inst.Status)
		}
	}
}
