package scheduler

import (
	"context"
	"fmt"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultStatusLimit = 50

// HandleReport routes a device report: health checks go to the health
// tracker, everything else is an execution status. The returned status is
// nil for health checks.
func (s *Scheduler) HandleReport(ctx context.Context, report model.ExecutionReport) (*model.Status, error) {
	if report.IsHealthCheck() {
		return nil, s.RecordHealthCheck(ctx, report.Device)
	}
	return s.RecordExecutionStatus(ctx, report.Device, bool(report.ExecutionStatus), report.ExecutionMessage)
}

// RecordExecutionStatus stores the outcome of a watering run and tells the
// owner about it when the device asks for emails. A running time plan that
// executes only once is done after its run.
func (s *Scheduler) RecordExecutionStatus(ctx context.Context, deviceID string, executed bool, message string) (*model.Status, error) {
	var status model.Status

	err := s.withDevice(ctx, deviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
		status = model.Status{
			StatusID:        uuid.NewString(),
			DeviceID:        device.ID,
			ExecutionStatus: executed,
			Message:         message,
			StatusTime:      s.now(),
		}
		if err := tx.Create(&status).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Plan{}).
			Where("device_id = ? AND plan_type = ? AND execute_only_once = ? AND is_running = ?", device.ID, model.PlanTime, true, true).
			Update("is_running", false).Error; err != nil {
			return err
		}

		fx.notify(device, fmt.Sprintf("Device Operation: %t", executed), message)
		fx.event(model.EventStatus, device).Status = &status
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &status, nil
}

// ListStatuses returns the newest statuses of the device first.
func (s *Scheduler) ListStatuses(ctx context.Context, owner *model.User, deviceID string, limit int) ([]model.Status, error) {
	device, err := s.ownedDevice(ctx, owner, deviceID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultStatusLimit
	}

	statuses := make([]model.Status, 0)
	err = s.db.WithContext(ctx).
		Where("device_id = ?", device.ID).
		Order("status_time DESC").
		Limit(limit).
		Find(&statuses).Error
	return statuses, err
}

// GetStatus looks up one status of the device.
func (s *Scheduler) GetStatus(ctx context.Context, owner *model.User, deviceID, statusID string) (*model.Status, error) {
	device, err := s.ownedDevice(ctx, owner, deviceID)
	if err != nil {
		return nil, err
	}

	var status model.Status
	res := s.db.WithContext(ctx).Where("device_id = ? AND status_id = ?", device.ID, statusID).Limit(1).Find(&status)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("status %s: %w", statusID, ErrNotFound)
	}
	return &status, nil
}
