package scheduler

import (
	"github.com/ZamarianPatrick/waterplant-backend/model"
	"gorm.io/gorm"
)

// updatePlanColumns and updateDeviceColumns write plain columns by primary
// key so that preloaded associations are never saved back.
func updatePlanColumns(tx *gorm.DB, plan *model.Plan, changes map[string]interface{}) error {
	return tx.Model(&model.Plan{}).Where("id = ?", plan.ID).Updates(changes).Error
}

func updateDeviceColumns(tx *gorm.DB, device *model.Device, changes map[string]interface{}) error {
	return tx.Model(&model.Device{}).Where("id = ?", device.ID).Updates(changes).Error
}
