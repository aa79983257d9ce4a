package domain

import "time"

// WaMessageLog records every outbound send attempt for auditing.
type WaMessageLog struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	AgentID   int64     `json:"agent_id,string" gorm:"index"`
	Recipient string    `json:"recipient"`
	Length    int       `json:"length"`
	Result    string    `json:"result"` // sent, failed
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

func (WaMessageLog) TableName() string {
	return "wa_message_log"
}
