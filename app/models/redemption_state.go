package models

import "time"

// RedemptionState tracks free-item usage for one customer. DayKey is the local
// calendar date (YYYY-MM-DD) the counter applies to.
type RedemptionState struct {
	CustomerID       string     `gorm:"type:varchar(64);primaryKey" json:"customer_id"`
	CountUsedToday   int        `gorm:"not null;default:0" json:"count_used_today"`
	LastRedemptionAt *time.Time `gorm:"default:null" json:"last_redemption_at,omitempty"`
	DayKey           string     `gorm:"type:varchar(10);not null;default:''" json:"day_key"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RedemptionState) TableName() string {
	return "loyalty_redemption_states"
}
