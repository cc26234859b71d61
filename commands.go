package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listSessionsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent sessions in a table",
	Run:   runListSessions,
}

var statsCmd = &cobra.Command{
	Use:   "stats <sessionID>",
	Short: "Show turn and embedding statistics for a session",
	Args:  cobra.ExactArgs(1),
	Run:   runStats,
}

var completeCmd = &cobra.Command{
	Use:   "complete <sessionID>",
	Short: "Force-complete a stuck session on the running server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runFinalize(args[0], "complete")
	},
}

var leaveCmd = &cobra.Command{
	Use:   "leave <sessionID>",
	Short: "Ask the running server to leave a session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runFinalize(args[0], "leave")
	},
}

func init() {
	listSessionsCmd.Flags().Int("limit", 50, "Number of sessions to show")
	statsCmd.Flags().Bool("turns", false, "Also list the session's turns")
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	return table
}

func runListSessions(cmd *cobra.Command, args []string) {
	logs := createLoggers()
	ctx := context.Background()

	pool, queries, err := openDatabase(ctx, logs.data)
	if err != nil {
		logs.main.Fatal("open database", "error", err)
	}
	defer pool.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	sessions, err := queries.ListSessionsWithTurnCount(ctx, int32(limit))
	if err != nil {
		logs.main.Fatal("fetch sessions", "error", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	table := newTable([]string{"ID", "Created At", "Status", "Outcome", "Meeting", "Duration", "Turns"})
	for _, s := range sessions {
		end := time.Now()
		if s.EndedAt.Valid {
			end = s.EndedAt.Time
		}
		table.Append([]string{
			s.ID,
			s.CreatedAt.Time.Local().Format("2006-01-02 15:04:05"),
			string(s.Status),
			s.Outcome.String,
			s.MeetingUrl,
			end.Sub(s.CreatedAt.Time).Round(time.Second).String(),
			fmt.Sprintf("%d", s.TurnCount),
		})
	}
	table.Render()
}

func runStats(cmd *cobra.Command, args []string) {
	logs := createLoggers()
	ctx := context.Background()

	pool, queries, err := openDatabase(ctx, logs.data)
	if err != nil {
		logs.main.Fatal("open database", "error", err)
	}
	defer pool.Close()

	stats, err := queries.GetTurnStats(ctx, args[0])
	if err != nil {
		logs.main.Fatal("fetch stats", "error", err)
	}

	table := newTable([]string{"Turns", "Embedded", "Without Embedding", "Avg Length", "First Seq", "Last Seq"})
	table.Append([]string{
		fmt.Sprintf("%d", stats.TotalTurns),
		fmt.Sprintf("%d", stats.TurnsWithEmbeddings),
		fmt.Sprintf("%d", stats.TurnsWithoutEmbeddings),
		fmt.Sprintf("%.1f", stats.AvgContentLength),
		fmt.Sprintf("%d", stats.FirstSeq),
		fmt.Sprintf("%d", stats.LastSeq),
	})
	table.Render()

	if showTurns, _ := cmd.Flags().GetBool("turns"); !showTurns {
		return
	}

	rows, err := queries.ListTurnsForSession(ctx, args[0])
	if err != nil {
		logs.main.Fatal("fetch turns", "error", err)
	}
	fmt.Println()
	table = newTable([]string{"Seq", "Speaker", "Identity", "Embedded", "Text"})
	for _, t := range rows {
		identity := ""
		if t.IdentityID.Valid {
			identity = fmt.Sprintf("%d", t.IdentityID.Int64)
		}
		embedded := "yes"
		if !t.HasEmbedding {
			embedded = "no: " + t.EmbeddingError.String
		}
		table.Append([]string{
			fmt.Sprintf("%d", t.Seq),
			t.SpeakerLabel,
			identity,
			embedded,
			truncate(t.Content, 60),
		})
	}
	table.Render()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// runFinalize goes through the server so that the session's pipeline in
// that process is drained.
func runFinalize(sessionID, action string) {
	logs := createLoggers()

	url := fmt.Sprintf("%s/sessions/%s/%s", strings.TrimSuffix(viper.GetString("server"), "/"), sessionID, action)
	var resp struct {
		Finalized bool `json:"finalized"`
		Session   struct {
			Status  string `json:"status"`
			Outcome string `json:"outcome"`
		} `json:"session"`
	}
	if err := postJSON(context.Background(), url, nil, &resp); err != nil {
		logs.main.Fatal(action, "session", sessionID, "error", err)
	}

	if resp.Finalized {
		logs.main.Info("session finalized", "session", sessionID, "status", resp.Session.Status, "outcome", resp.Session.Outcome)
	} else {
		logs.main.Info("session was already finalized", "session", sessionID, "status", resp.Session.Status, "outcome", resp.Session.Outcome)
	}
}

func postJSON(ctx context.Context, url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(b))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("server returned %s: %s", resp.Status, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
