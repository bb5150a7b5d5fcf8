package market

import (
	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/computemarket/cmkt/internal/models"
)

// --- Task Escrow ---

// BuyCompute purchases one run of an active service. The full payment is
// taken into escrow, including any amount above the price, and a new task
// is created in the created state. Anyone may buy.
func (s *Service) BuyCompute(buyer string, serviceID uint64, payment math.Uint) (*models.Task, error) {
	buyer = NormalizePrincipal(buyer)
	inputs := map[string]interface{}{"service_id": serviceID, "payment": payment.String()}

	var out *models.Task
	err := s.mutate("task.buy", buyer, 0, inputs, func(tx *txn) error {
		if buyer == "" {
			return errorsmod.Wrap(ErrInvalidArgument, "buyer is required")
		}
		if reservedPrincipal(buyer) {
			return errorsmod.Wrapf(ErrInvalidArgument, "%q is a reserved account", buyer)
		}

		svc, err := tx.store.GetService(serviceID)
		if err != nil {
			return err
		}
		if svc == nil || !svc.Active {
			return errorsmod.Wrapf(ErrServiceNotActive, "service %d", serviceID)
		}
		if payment.LT(svc.Price) {
			return errorsmod.Wrapf(ErrInsufficientPayment, "paid %s, price is %s", payment, svc.Price)
		}

		id, err := tx.store.NextTaskID()
		if err != nil {
			return err
		}
		tx.taskID = id

		task := &models.Task{
			TaskID:    id,
			ServiceID: serviceID,
			Buyer:     buyer,
			Amount:    payment,
			Status:    models.TaskStatusCreated,
			CreatedAt: tx.now,
			UpdatedAt: tx.now,
		}
		if err := tx.store.InsertTask(task); err != nil {
			return err
		}
		if err := tx.emit(models.Event{
			Type:      models.EventTaskCreated,
			TaskID:    id,
			ServiceID: serviceID,
			Principal: buyer,
			Amount:    payment.String(),
		}); err != nil {
			return err
		}

		if _, err := tx.ledger.Deposit(buyer, payment, id); err != nil {
			return settlementErr(err)
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StartTask marks a created task as running. No funds move. Authority only.
func (s *Service) StartTask(caller string, taskID uint64) (*models.Task, error) {
	return s.advance(caller, taskID, opStart, "")
}

// CompleteTask records the result reference of a created or running task and
// releases its escrowed amount to the authority. Authority only.
func (s *Service) CompleteTask(caller string, taskID uint64, resultHash string) (*models.Task, error) {
	return s.advance(caller, taskID, opComplete, resultHash)
}

// RefundTask returns the escrowed amount of a created or running task to
// its buyer. Authority only.
func (s *Service) RefundTask(caller string, taskID uint64) (*models.Task, error) {
	return s.advance(caller, taskID, opRefund, "")
}

// advance applies one lifecycle op. The task row and the notification are
// written before the escrow release; a failed release rolls both back.
func (s *Service) advance(caller string, taskID uint64, op lifecycleOp, resultHash string) (*models.Task, error) {
	caller = NormalizePrincipal(caller)
	inputs := map[string]interface{}{"task_id": taskID}
	if op == opComplete {
		inputs["result_hash"] = resultHash
	}

	var out *models.Task
	err := s.mutate("task."+string(op), caller, taskID, inputs, func(tx *txn) error {
		authority, err := tx.requireAuthority(caller)
		if err != nil {
			return err
		}

		task, err := tx.store.GetTask(taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return errorsmod.Wrapf(ErrInvalidStateTransition, "task %d does not exist", taskID)
		}
		next, err := nextStatus(task.Status, op)
		if err != nil {
			return errorsmod.Wrapf(err, "task %d", taskID)
		}

		now := tx.now
		task.Status = next
		task.UpdatedAt = now
		ev := models.Event{
			TaskID:    task.TaskID,
			ServiceID: task.ServiceID,
			Principal: task.Buyer,
		}
		switch op {
		case opStart:
			ev.Type = models.EventTaskStarted
			ev.Counterpart = caller
		case opComplete:
			task.ResultHash = resultHash
			task.CompletedAt = &now
			ev.Type = models.EventTaskCompleted
			ev.ResultHash = resultHash
			ev.Amount = task.Amount.String()
			ev.Counterpart = authority
		case opRefund:
			task.RefundedAt = &now
			ev.Type = models.EventTaskRefunded
			ev.Amount = task.Amount.String()
		}

		if err := tx.store.UpdateTask(task); err != nil {
			return err
		}
		if err := tx.emit(ev); err != nil {
			return err
		}

		switch op {
		case opComplete:
			if _, err := tx.ledger.Release(authority, task.Amount, task.TaskID, "task completed"); err != nil {
				return settlementErr(err)
			}
		case opRefund:
			if _, err := tx.ledger.Release(task.Buyer, task.Amount, task.TaskID, "task refunded"); err != nil {
				return settlementErr(err)
			}
		}

		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTask returns the full task record.
func (s *Service) GetTask(taskID uint64) (*models.Task, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errorsmod.Wrapf(ErrNotFound, "task %d", taskID)
	}
	return task, nil
}

// GetTaskCount returns the number of tasks ever created, which is also the
// highest task ID issued.
func (s *Service) GetTaskCount() (uint64, error) {
	return s.store.TaskCount()
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Service) ListTasks(f models.TaskFilter) ([]models.Task, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, errorsmod.Wrapf(ErrInvalidArgument, "unknown status %q", f.Status)
	}
	f.Buyer = NormalizePrincipal(f.Buyer)
	return s.store.ListTasks(f)
}
