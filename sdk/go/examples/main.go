package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"AgentVault-Core/sdk/go/vault"
)

// 演示用 SDK 驱动一次完整的授权与托管流程。
func main() {
	baseURL := os.Getenv("VAULT_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client, err := vault.NewClient(baseURL, vault.WithAPIKey(os.Getenv("VAULT_API_KEY")))
	if err != nil {
		log.Fatalf("创建客户端失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	subject, err := client.CreateSubject(ctx, vault.CreateSubjectRequest{
		Owner:      "0x1111111111111111111111111111111111111111",
		Controller: "0x2222222222222222222222222222222222222222",
		Recovery:   "0x3333333333333333333333333333333333333333",
		LimitPerTx: "500000000",
		DailyLimit: "2000000000",
	})
	if err != nil {
		log.Fatalf("创建策略主体失败: %v", err)
	}
	fmt.Printf("策略主体已创建: %s\n", subject.ID)

	decision, err := client.Authorize(ctx, subject.ID, vault.AuthorizeRequest{
		Merchant: "api.openai.com",
		Token:    "USDC",
		Amount:   "25000000",
	})
	if err != nil {
		log.Fatalf("授权失败: %v", err)
	}
	fmt.Printf("今日已花费 %s，剩余额度 %s\n", decision.SpentToday, decision.DailyRemaining)

	record, err := client.CreateEscrow(ctx, vault.CreateEscrowRequest{
		Seller:   "0x4444444444444444444444444444444444444444",
		Token:    "USDC",
		Amount:   "100000000",
		Deadline: time.Now().Add(72 * time.Hour).Unix(),
	})
	if err != nil {
		log.Fatalf("创建托管失败: %v", err)
	}
	fmt.Printf("托管单已创建: %s state=%s\n", record.ID, record.State)
}
