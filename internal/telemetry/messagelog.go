package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

// DefaultMaxMessages 消息日志默认容量
const DefaultMaxMessages = 1000

// 进程内全局递增，跨会话唯一
var messageSeq atomic.Uint64

// MessageLog 最新在前的有界消息日志，超出容量时淘汰最旧的条目
type MessageLog struct {
	capacity int
	entries  []models.Message
}

// NewMessageLog 创建消息日志
func NewMessageLog(capacity int) *MessageLog {
	if capacity <= 0 {
		capacity = DefaultMaxMessages
	}
	return &MessageLog{
		capacity: capacity,
		entries:  make([]models.Message, 0, 16),
	}
}

// Append 在头部插入一条消息并截断到容量
func (l *MessageLog) Append(text string, severity models.Severity, at time.Time) models.Message {
	msg := models.Message{
		ID:        messageSeq.Add(1),
		Text:      text,
		Severity:  severity,
		Timestamp: at,
	}

	l.entries = append(l.entries, models.Message{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = msg

	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
	return msg
}

// Snapshot 返回消息副本，最新在前
func (l *MessageLog) Snapshot() []models.Message {
	out := make([]models.Message, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len 当前条目数
func (l *MessageLog) Len() int {
	return len(l.entries)
}

// Capacity 容量
func (l *MessageLog) Capacity() int {
	return l.capacity
}
