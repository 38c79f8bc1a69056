package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/matheus3301/chatvault/internal/config"
	"github.com/matheus3301/chatvault/internal/session"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr := *addrFlag
	if addr == "" {
		cfg, err := config.LoadOrDefaults(session.ConfigPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		addr = cfg.API.ListenAddr
	}
	c := &client{base: "http://" + addr, http: &http.Client{Timeout: 10 * time.Second}}

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "chats":
		cmdChats(c, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatvaultctl messages <chat-id>")
			os.Exit(1)
		}
		cmdMessages(c, args[1], *jsonFlag)
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatvaultctl search <query>")
			os.Exit(1)
		}
		cmdSearch(c, args[1], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatvaultctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                Show daemon and connection status")
	fmt.Fprintln(os.Stderr, "  chats                 List archived chats")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>    List messages in a chat")
	fmt.Fprintln(os.Stderr, "  search <query>        Full-text search across messages")
}

type client struct {
	base string
	http *http.Client
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("%s", errBody.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return json.Unmarshal(body, out)
}

func cmdStatus(c *client, jsonOut bool) {
	var resp struct {
		Session    string `json:"session"`
		Connection struct {
			State             string `json:"state"`
			ReconnectAttempts int    `json:"reconnect_attempts"`
		} `json:"connection"`
		Counts struct {
			Chats    int64 `json:"chats"`
			Contacts int64 `json:"contacts"`
			Messages int64 `json:"messages"`
		} `json:"counts"`
		Backfill *struct {
			RunID    string `json:"run_id"`
			Batches  int    `json:"batches"`
			Messages int    `json:"messages"`
			Complete bool   `json:"complete"`
			Reason   string `json:"reason"`
		} `json:"backfill"`
	}
	if err := c.get("/v1/status", &resp); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session:    %s\n", resp.Session)
	fmt.Printf("Connection: %s", resp.Connection.State)
	if resp.Connection.ReconnectAttempts > 0 {
		fmt.Printf(" (attempt %d)", resp.Connection.ReconnectAttempts)
	}
	fmt.Println()
	fmt.Printf("Chats:      %d\n", resp.Counts.Chats)
	fmt.Printf("Contacts:   %d\n", resp.Counts.Contacts)
	fmt.Printf("Messages:   %d\n", resp.Counts.Messages)
	if resp.Backfill != nil {
		state := "running"
		if resp.Backfill.Complete {
			state = "complete (" + resp.Backfill.Reason + ")"
		}
		fmt.Printf("Backfill:   %s, %d batches, %d messages\n",
			state, resp.Backfill.Batches, resp.Backfill.Messages)
	}
}

func cmdChats(c *client, jsonOut bool) {
	var resp struct {
		Chats []struct {
			ID           int64  `json:"id"`
			ExternalID   string `json:"external_id"`
			Kind         string `json:"kind"`
			Name         string `json:"name"`
			Preview      string `json:"preview"`
			MessageCount int64  `json:"message_count"`
		} `json:"chats"`
	}
	if err := c.get("/v1/chats?limit=100", &resp); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, chat := range resp.Chats {
		name := chat.Name
		if name == "" {
			name = chat.ExternalID
		}
		fmt.Printf("%-6d %-8s %-30s %6d msgs  %s\n",
			chat.ID, chat.Kind, truncate(name, 30), chat.MessageCount, truncate(chat.Preview, 40))
	}
}

func cmdMessages(c *client, chatID string, jsonOut bool) {
	if _, err := strconv.ParseInt(chatID, 10, 64); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid chat id %q\n", chatID)
		os.Exit(1)
	}
	var resp struct {
		Messages []struct {
			SenderName string `json:"sender_name"`
			SenderID   string `json:"sender_id"`
			FromMe     bool   `json:"from_me"`
			Kind       string `json:"kind"`
			Body       string `json:"body"`
			Timestamp  int64  `json:"timestamp"`
		} `json:"messages"`
	}
	if err := c.get("/v1/chats/"+chatID+"/messages", &resp); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		m := resp.Messages[i]
		who := m.SenderName
		if who == "" {
			who = m.SenderID
		}
		if m.FromMe {
			who = "me"
		}
		body := m.Body
		if body == "" {
			body = "[" + m.Kind + "]"
		}
		ts := time.Unix(m.Timestamp, 0).Format("2006-01-02 15:04")
		fmt.Printf("%s  %-20s %s\n", ts, truncate(who, 20), body)
	}
}

func cmdSearch(c *client, query string, jsonOut bool) {
	var resp struct {
		Results []struct {
			Message struct {
				ChatID    int64  `json:"chat_id"`
				Timestamp int64  `json:"timestamp"`
				Body      string `json:"body"`
			} `json:"message"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	}
	if err := c.get("/v1/search?q="+url.QueryEscape(query), &resp); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, r := range resp.Results {
		ts := time.Unix(r.Message.Timestamp, 0).Format("2006-01-02 15:04")
		fmt.Printf("%s  chat %-6d %s\n", ts, r.Message.ChatID, r.Snippet)
	}
}

func outputJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(out))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
