package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"node.town/minutes/ingest"
)

var feedCmd = &cobra.Command{
	Use:   "feed <transcript.jsonl>",
	Short: "Replay a recorded transcript into a session",
	Long: `Replay a JSONL transcript, one {"speaker", "text", "timestamp"} object per
line, into a session on the running server. Without --session a new session is
created for --meeting-url.`,
	Args: cobra.ExactArgs(1),
	Run:  runFeed,
}

func init() {
	feedCmd.Flags().String("session", "", "Existing session ID to feed")
	feedCmd.Flags().String("meeting-url", "", "Meeting URL for a new session")
	feedCmd.Flags().String("bot", "feed", "Bot ID for a new session")
	feedCmd.Flags().Duration("pace", 0, "Delay between turns")
	feedCmd.Flags().Bool("leave", false, "Leave the session after the last turn")
}

type transcriptLine struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// readTranscript parses JSONL, skipping blank lines.
func readTranscript(r io.Reader) ([]transcriptLine, error) {
	var lines []transcriptLine
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line transcriptLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if line.Speaker == "" {
			return nil, fmt.Errorf("line %d: missing speaker", n)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func runFeed(cmd *cobra.Command, args []string) {
	logs := createLoggers()
	ctx := context.Background()
	server := strings.TrimSuffix(viper.GetString("server"), "/")

	f, err := os.Open(args[0])
	if err != nil {
		logs.main.Fatal("open transcript", "error", err)
	}
	lines, err := readTranscript(f)
	f.Close()
	if err != nil {
		logs.main.Fatal("parse transcript", "error", err)
	}

	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		meetingURL, _ := cmd.Flags().GetString("meeting-url")
		botID, _ := cmd.Flags().GetString("bot")
		var created struct {
			ID string `json:"id"`
		}
		err := postJSON(ctx, server+"/sessions", map[string]string{
			"bot_id":      botID,
			"meeting_url": meetingURL,
		}, &created)
		if err != nil {
			logs.main.Fatal("create session", "error", err)
		}
		sessionID = created.ID
		logs.main.Info("created session", "session", sessionID)
	}

	client, err := ingest.Dial(ctx, server, sessionID)
	if err != nil {
		logs.main.Fatal("connect", "error", err)
	}

	pace, _ := cmd.Flags().GetDuration("pace")
	for i, line := range lines {
		if err := client.SendTurn(ctx, line.Speaker, line.Text, line.Timestamp); err != nil {
			logs.main.Fatal("send turn", "index", i, "error", err)
		}
		if pace > 0 {
			time.Sleep(pace)
		}
	}
	if err := client.Close(); err != nil {
		logs.main.Warn("close connection", "error", err)
	}
	logs.main.Info("fed transcript", "session", sessionID, "turns", len(lines))

	if leave, _ := cmd.Flags().GetBool("leave"); leave {
		runFinalize(sessionID, "leave")
	}
}
