package job

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueDeliversEnvelope(t *testing.T) {
	queue := NewMemoryQueue(4)
	defer queue.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sent := Envelope{JobID: "job-1", BuyerID: "alice", Capability: "summarize_text"}
	if err := queue.Publish(ctx, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	received := make(chan Envelope, 1)
	go func() {
		_ = queue.Consume(ctx, 1, func(_ context.Context, msg Envelope) error {
			received <- msg
			return nil
		})
	}()

	select {
	case msg := <-received:
		if msg != sent {
			t.Fatalf("message mutated in transit: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestDecodeEnvelopeFallsBackToBareJobID(t *testing.T) {
	// 手工投递的裸 ID 消息按最小消息体处理。
	msg := decodeEnvelope([]byte("job-42\n"))
	if msg.JobID != "job-42" || msg.BuyerID != "" {
		t.Fatalf("unexpected fallback envelope: %+v", msg)
	}

	encoded, err := encodeEnvelope(Envelope{JobID: "job-7", BuyerID: "bob", Capability: "generate_charts", Attempt: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded := decodeEnvelope(encoded)
	if decoded.JobID != "job-7" || decoded.BuyerID != "bob" || decoded.Attempt != 2 {
		t.Fatalf("unexpected decoded envelope: %+v", decoded)
	}
}
