package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"StakePilot-Chain/sdk/go/stakepilot"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/prompts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(stakepilot.PromptAck{ID: "trigger-demo"})
	})
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]stakepilot.Run{{
			ID:           "run-demo",
			Source:       "operator",
			Reply:        "建议保持现状。",
			Observations: "模型未给出操作，保持现状",
			CreatedAt:    time.Now().Unix(),
		}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := stakepilot.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ack, err := client.Prompt(ctx, "评估当前质押收益")
	if err != nil {
		panic(err)
	}
	fmt.Printf("queued trigger %s\n", ack.ID)

	runs, err := client.Runs(ctx, 5)
	if err != nil {
		panic(err)
	}
	for _, run := range runs {
		fmt.Printf("run %s (%s): %s\n", run.ID, run.Source, run.Observations)
	}
}
