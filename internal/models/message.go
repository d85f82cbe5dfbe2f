package models

import "time"

// Severity 消息级别
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Message 驾驶舱消息日志条目
type Message struct {
	ID        uint64    `json:"id"`
	Text      string    `json:"text"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}
