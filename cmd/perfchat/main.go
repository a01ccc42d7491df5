package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/welli/internal/protocol"
)

type options struct {
	baseURL        string
	sessionID      string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	keepHistory    bool
	verbose        bool
}

type turnResult struct {
	Latency   time.Duration
	Type      protocol.MessageType
	Code      string
	Emergency bool
}

var defaultQuestions = []string{
	"What are common symptoms of iron deficiency?",
	"How much water should an adult drink per day?",
	"When should a fever in an adult be checked by a doctor?",
	"Is it safe to take ibuprofen on an empty stomach?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "Welli base URL")
	flag.StringVar(&cfg.sessionID, "session-id", "", "session id to replay into (default: random)")
	flag.IntVar(&cfg.turns, "turns", 10, "number of exchanges to replay")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 200, "delay between exchanges in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 60000, "timeout waiting for each reply in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "questions separated by '|' (optional)")
	flag.BoolVar(&cfg.keepHistory, "keep-history", false, "do not clear the session after the replay")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if turnTimeoutMS <= 0 {
		return options{}, fmt.Errorf("turn-timeout-ms must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	cfg.texts = splitTexts(textsRaw)
	if len(cfg.texts) == 0 {
		cfg.texts = defaultQuestions
	}
	if strings.TrimSpace(cfg.sessionID) == "" {
		cfg.sessionID = "perf-" + uuid.NewString()
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	wsURL, err := wsURLForSession(cfg.baseURL, cfg.sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if !cfg.keepHistory {
		defer func() {
			httpClient := &http.Client{Timeout: 10 * time.Second}
			if err := clearSession(context.Background(), httpClient, cfg.baseURL, cfg.sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "perfchat: clear session: %v\n", err)
			}
		}()
	}

	if cfg.verbose {
		fmt.Printf("perfchat: session=%s turns=%d\n", cfg.sessionID, cfg.turns)
	}

	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		res, err := exchange(conn, fmt.Sprintf("r%d", i+1), text, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		results = append(results, res)
		if cfg.verbose {
			fmt.Printf("perfchat: turn %d/%d %s latency=%s code=%s\n",
				i+1, cfg.turns, res.Type, res.Latency.Round(time.Millisecond), res.Code)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	fmt.Println(summarize(results))
	return nil
}

func exchange(conn *websocket.Conn, requestID, text string, timeout time.Duration) (turnResult, error) {
	started := time.Now()
	_ = conn.SetWriteDeadline(started.Add(10 * time.Second))
	if err := conn.WriteJSON(protocol.ChatMessage{
		Type:      protocol.TypeChatMessage,
		Message:   text,
		RequestID: requestID,
	}); err != nil {
		return turnResult{}, fmt.Errorf("send chat_message: %w", err)
	}

	_ = conn.SetReadDeadline(started.Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return turnResult{}, fmt.Errorf("await reply: %w", err)
		}
		var reply struct {
			Type      protocol.MessageType `json:"type"`
			RequestID string               `json:"request_id"`
			Code      string               `json:"code"`
			Emergency bool                 `json:"emergency"`
		}
		if err := json.Unmarshal(data, &reply); err != nil {
			continue
		}
		if reply.RequestID != requestID {
			continue
		}
		return turnResult{
			Latency:   time.Since(started),
			Type:      reply.Type,
			Code:      reply.Code,
			Emergency: reply.Emergency,
		}, nil
	}
}

func clearSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	body, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/clear", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// percentile uses nearest-rank on a sorted copy of samples.
func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(float64(len(sorted))*p+0.999999) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func summarize(results []turnResult) string {
	latencies := make([]time.Duration, 0, len(results))
	errorsByCode := map[string]int{}
	replies := 0
	for _, r := range results {
		latencies = append(latencies, r.Latency)
		if r.Type == protocol.TypeAssistantReply {
			replies++
		} else {
			errorsByCode[r.Code]++
		}
	}
	codes := make([]string, 0, len(errorsByCode))
	for code, n := range errorsByCode {
		codes = append(codes, fmt.Sprintf("%s=%d", code, n))
	}
	sort.Strings(codes)
	return fmt.Sprintf("perfchat: turns=%d replies=%d errors=[%s] p50=%s p95=%s max=%s",
		len(results), replies, strings.Join(codes, " "),
		percentile(latencies, 0.50).Round(time.Millisecond),
		percentile(latencies, 0.95).Round(time.Millisecond),
		percentile(latencies, 1).Round(time.Millisecond))
}
