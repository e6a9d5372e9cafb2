// Package main runs a demo WebSocket client for run events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Create a small instance
	instBody := []byte(`{
		"name": "demo",
		"capacity": 100,
		"depotId": "D",
		"nodes": [
			{"id":"D","x":0,"y":0,"demand":0,"ready":0,"due":100,"service":0},
			{"id":"A","x":5,"y":0,"demand":10,"ready":0,"due":10,"service":1},
			{"id":"B","x":10,"y":0,"demand":10,"ready":3,"due":15,"service":2}
		]
	}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/instances", bytes.NewReader(instBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var inst struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&inst); err != nil {
		log.Fatal(err)
	}
	log.Printf("Instance ID: %s", inst.ID)

	// Connect WS before solving so the progress events are not missed
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws/runs"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Run a coarsened solve
	solveBody := []byte(fmt.Sprintf(`{
		"instanceId": %q,
		"algorithm": "greedy",
		"coarsen": {"alpha":1, "beta":1, "targetFraction":0.9, "radiusCoeff":10}
	}`, inst.ID))
	solveReq, _ := http.NewRequest(http.MethodPost, base+"/v1/solve", bytes.NewReader(solveBody))
	solveReq.Header.Set("Content-Type", "application/json")
	solveReq.Header.Set("X-Tenant-Id", "t_demo")
	solveReq.Header.Set("X-Role", "admin")
	solveResp, err := http.DefaultClient.Do(solveReq)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = solveResp.Body.Close() }()
	var run struct {
		ID     string     `json:"id"`
		Routes [][]string `json:"routes"`
	}
	if err := json.NewDecoder(solveResp.Body).Decode(&run); err != nil {
		log.Fatal(err)
	}
	log.Printf("Run ID: %s routes: %v", run.ID, run.Routes)

	// Subscribe to the completed run's event replay channel for any late events
	pl, _ := json.Marshal(map[string]any{"runId": run.ID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
