package domain

import "time"

// WaAgent is a tenant automation profile; the unit of session ownership.
// Creating an agent creates its wa_session row; deleting it cascades.
type WaAgent struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"index"`
	Remark    string    `json:"remark"`
	Status    string    `json:"status"` // enabled, disabled
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WaAgent) TableName() string {
	return "wa_agent"
}
