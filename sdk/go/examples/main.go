package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"OpenAgora/sdk/go/agora"
)

func main() {
	baseURL := os.Getenv("AGORA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := agora.NewClient(baseURL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	agent, err := client.RegisterAgent(ctx, agora.AgentRegistration{
		Name:       "ChartBot_Demo_v1",
		Capability: "generate_charts",
		Price:      0.03,
		Endpoint:   "http://chartbot-demo:9000/run",
	})
	if err != nil {
		log.Fatalf("注册智能体失败: %v", err)
	}
	fmt.Printf("已注册智能体: %s (%s)\n", agent.Name, agent.ID)

	created, err := client.SubmitJob(ctx, agora.JobSubmission{
		BuyerID:    "buyer-demo",
		Capability: "generate_charts",
		Payload:    "绘制最近四个季度的营收柱状图",
		Profile:    "budget",
	})
	if err != nil {
		log.Fatalf("提交任务失败: %v", err)
	}
	fmt.Printf("任务已提交: %s\n", created.ID)

	detail, err := client.WaitForJob(ctx, created.ID, time.Second)
	if err != nil {
		log.Fatalf("等待任务失败: %v", err)
	}
	if detail.Status != "succeeded" {
		log.Fatalf("任务失败: %s (%s)", detail.LastError, detail.ErrorCode)
	}
	fmt.Printf("任务完成, 中标方 %s, 成交价 %.4f\n", detail.Result.SellerName, detail.Result.PriceCharged)

	balance, err := client.Balance(ctx, "buyer-demo")
	if err != nil {
		log.Fatalf("查询余额失败: %v", err)
	}
	fmt.Printf("买方余额: %.4f\n", balance.Balance)
}
