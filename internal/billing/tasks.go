package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	// TaskGenerate runs a fleet-wide billing pass.
	TaskGenerate = "billing:generate"
	// TaskVehicle bills a single vehicle.
	TaskVehicle = "billing:vehicle"

	// QueueName is the asynq queue billing tasks are enqueued on.
	QueueName = "billing"

	vehicleUniqueWindow = 30 * time.Second
)

type vehiclePayload struct {
	VehicleID uuid.UUID `json:"vehicle_id"`
}

// NewVehicleTask builds the per-vehicle billing task.
func NewVehicleTask(vehicleID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(vehiclePayload{VehicleID: vehicleID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVehicle, payload, asynq.Queue(QueueName), asynq.MaxRetry(5)), nil
}

// NewGenerateTask builds the fleet-wide billing task.
func NewGenerateTask() *asynq.Task {
	return asynq.NewTask(TaskGenerate, nil, asynq.Queue(QueueName), asynq.MaxRetry(1))
}

// Enqueuer is the asynq client surface used by Trigger.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Trigger schedules per-vehicle billing after registry and ledger changes.
// Bursts for the same vehicle collapse into one task.
type Trigger struct {
	Client Enqueuer
	Log    zerolog.Logger
}

// TriggerVehicle enqueues a billing task. Failures are logged; the scheduled
// fleet pass catches up on anything missed.
func (t Trigger) TriggerVehicle(ctx context.Context, vehicleID uuid.UUID) {
	if t.Client == nil {
		return
	}
	task, err := NewVehicleTask(vehicleID)
	if err != nil {
		t.Log.Error().Err(err).Str("vehicle_id", vehicleID.String()).Msg("build billing task")
		return
	}
	_, err = t.Client.EnqueueContext(ctx, task, asynq.Unique(vehicleUniqueWindow))
	if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		t.Log.Warn().Err(err).Str("vehicle_id", vehicleID.String()).Msg("enqueue billing task")
	}
}

// TaskHandler runs billing tasks on an asynq server.
type TaskHandler struct {
	Generator *Generator
	Log       zerolog.Logger
}

// Register mounts the handlers on mux.
func (h TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskGenerate, h.HandleGenerate)
	mux.HandleFunc(TaskVehicle, h.HandleVehicle)
}

// HandleGenerate runs the fleet pass unless another replica is already running it.
func (h TaskHandler) HandleGenerate(ctx context.Context, _ *asynq.Task) error {
	_, err := h.Generator.RunExclusive(ctx)
	if errors.Is(err, ErrRunInProgress) {
		return nil
	}
	return err
}

// HandleVehicle bills the vehicle named in the payload.
func (h TaskHandler) HandleVehicle(ctx context.Context, task *asynq.Task) error {
	var p vehiclePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil || p.VehicleID == uuid.Nil {
		h.Log.Error().Err(err).Str("task", task.Type()).Msg("malformed billing task payload")
		return fmt.Errorf("decode billing payload: %w", asynq.SkipRetry)
	}
	_, err := h.Generator.GenerateForVehicle(ctx, p.VehicleID)
	return err
}

// RegisterSchedule adds the periodic fleet pass to scheduler.
func RegisterSchedule(scheduler *asynq.Scheduler, spec string) (string, error) {
	return scheduler.Register(spec, NewGenerateTask())
}
