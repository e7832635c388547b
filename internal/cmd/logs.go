package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/pairpad/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View engine logs",
	Long: `View and filter the engine's structured log.

Examples:
  # Show the last 50 entries
  pairpad logs

  # Everything one session logged
  pairpad logs -s 6f1c... -n 0

  # Conflicts and rejections for one participant
  pairpad logs --participant bob --level warn

  # Follow the log in real time
  pairpad logs -f`,
	RunE: runLogs,
}

var (
	logsSessionID   string
	logsParticipant string
	logsFileID      string
	logsTail        int
	logsFollow      bool
	logsLevel       string
	logsSince       string
	logsGrep        string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsSessionID, "session", "s", "", "only entries for this session")
	logsCmd.Flags().StringVar(&logsParticipant, "participant", "", "only entries for this participant")
	logsCmd.Flags().StringVar(&logsFileID, "file", "", "only entries for this file ID")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "only entries newer than this duration (e.g. 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "only entries matching this regex")
}

// logEntry is one parsed JSON log line.
type logEntry struct {
	Time          time.Time      `json:"time"`
	Level         string         `json:"level"`
	Msg           string         `json:"msg"`
	SessionID     string         `json:"session_id,omitempty"`
	ParticipantID string         `json:"participant_id,omitempty"`
	FileID        string         `json:"file_id,omitempty"`
	Extra         map[string]any `json:"-"`
}

var knownLogFields = []string{"time", "level", "msg", "session_id", "participant_id", "file_id"}

// UnmarshalJSON keeps fields beyond the known ones in Extra.
func (e *logEntry) UnmarshalJSON(data []byte) error {
	type alias logEntry
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownLogFields {
		delete(all, k)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

func levelPriority(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelInfo:
		return 1
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return -1
	}
}

func levelStyle(level string) lipgloss.Style {
	switch strings.ToUpper(level) {
	case logging.LevelWarn:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	case logging.LevelError:
		return failStyle
	case logging.LevelInfo:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
	}
	return mutedStyle
}

// logFilter selects entries.
type logFilter struct {
	minLevel      int
	since         time.Time
	grep          *regexp.Regexp
	sessionID     string
	participantID string
	fileID        string
}

func (f logFilter) match(e *logEntry) bool {
	if f.minLevel >= 0 && levelPriority(e.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && e.Time.Before(f.since) {
		return false
	}
	if f.sessionID != "" && e.SessionID != f.sessionID {
		return false
	}
	if f.participantID != "" && e.ParticipantID != f.participantID {
		return false
	}
	if f.fileID != "" && e.FileID != f.fileID {
		return false
	}
	if f.grep != nil {
		text := e.Msg
		for _, v := range e.Extra {
			text += " " + fmt.Sprint(v)
		}
		if !f.grep.MatchString(text) {
			return false
		}
	}
	return true
}

func (p *printer) formatLogEntry(e *logEntry) string {
	var sb strings.Builder
	sb.WriteString(p.muted("[" + e.Time.Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	sb.WriteString(p.render(levelStyle(e.Level), fmt.Sprintf("[%-5s]", strings.ToUpper(e.Level))))
	sb.WriteString(" ")
	sb.WriteString(e.Msg)

	field := func(k string, v any) {
		sb.WriteString(" ")
		sb.WriteString(p.muted(k + "="))
		sb.WriteString(fmt.Sprint(v))
	}
	if e.SessionID != "" {
		field("session", e.SessionID)
	}
	if e.ParticipantID != "" {
		field("participant", e.ParticipantID)
	}
	if e.FileID != "" {
		field("file", e.FileID)
	}
	keys := make([]string, 0, len(e.Extra))
	for k := range e.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		field(k, e.Extra[k])
	}
	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logPath := filepath.Join(logDir(cfg, workDir()), logging.LogFileName)
	p := newPrinter(cmd.OutOrStdout())

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		p.line("No logs found at %s", logPath)
		return nil
	}

	filter := logFilter{
		minLevel:      -1,
		sessionID:     logsSessionID,
		participantID: logsParticipant,
		fileID:        logsFileID,
	}
	if logsLevel != "" {
		filter.minLevel = levelPriority(logging.ParseLevel(logsLevel))
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		filter.since = time.Now().Add(-d)
	}
	if logsGrep != "" {
		filter.grep, err = regexp.Compile(logsGrep)
		if err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
	}

	if logsFollow {
		return followLogs(cmd.Context(), p, logPath, filter)
	}
	return displayLogs(p, logPath, logsTail, filter)
}

// readLogEntries formats every entry of r that passes filter. Lines that are
// not JSON are kept verbatim.
func readLogEntries(p *printer, r io.Reader, filter logFilter) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var e logEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			out = append(out, line)
			continue
		}
		if filter.match(&e) {
			out = append(out, p.formatLogEntry(&e))
		}
	}
	return out, scanner.Err()
}

func displayLogs(p *printer, logPath string, tail int, filter logFilter) error {
	f, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	entries, err := readLogEntries(p, f, filter)
	if err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}
	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	for _, e := range entries {
		p.line("%s", e)
	}
	if len(entries) == 0 {
		p.line("No matching log entries found.")
	}
	return nil
}

// followLogs prints new entries as they are appended until ctx is done.
func followLogs(ctx context.Context, p *printer, logPath string, filter logFilter) error {
	f, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	p.line("Following %s... (Ctrl+C to stop)\n", logPath)

	reader := bufio.NewReader(f)
	var partial string
	for {
		chunk, err := reader.ReadString('\n')
		partial += chunk
		if err == io.EOF {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}

		line := partial
		partial = ""
		entries, err := readLogEntries(p, strings.NewReader(line), filter)
		if err != nil {
			return err
		}
		for _, e := range entries {
			p.line("%s", e)
		}
	}
}
