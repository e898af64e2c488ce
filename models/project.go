package models

import (
	"time"
)

type Project struct {
	ID           string    `gorm:"type:char(36);primaryKey" json:"id"`
	Title        string    `gorm:"size:255" json:"title"`
	Description  string    `gorm:"type:text" json:"description"`
	Status       string    `gorm:"size:20;index" json:"status"`
	TargetAmount float64   `gorm:"type:decimal(12,2)" json:"target_amount"`
	FundsRaised  float64   `gorm:"type:decimal(12,2)" json:"funds_raised"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
