package job

import (
	"context"
	"encoding/json"
	"strings"
)

// Envelope 是队列上传输的任务消息。除任务 ID 外携带买方与能力标签，
// 消费端在存储未命中时仍能输出可定位的日志与告警。
type Envelope struct {
	JobID      string `json:"job_id"`
	BuyerID    string `json:"buyer_id,omitempty"`
	Capability string `json:"capability,omitempty"`
	// Attempt 是投递时任务已经历的领取次数，0 表示首次投递。
	Attempt int `json:"attempt,omitempty"`
}

// encodeEnvelope 序列化队列消息。Redis 与 RabbitMQ 后端共用同一线格式。
func encodeEnvelope(msg Envelope) ([]byte, error) {
	return json.Marshal(msg)
}

// decodeEnvelope 反序列化队列消息。无法按 JSON 解析的消息体按裸任务 ID
// 处理，兼容手工投递的消息。
func decodeEnvelope(body []byte) Envelope {
	var msg Envelope
	if err := json.Unmarshal(body, &msg); err == nil && msg.JobID != "" {
		return msg
	}
	return Envelope{JobID: strings.TrimSpace(string(body))}
}

// Handler 处理来自消息队列的任务消息。
type Handler func(ctx context.Context, msg Envelope) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, msg Envelope) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
