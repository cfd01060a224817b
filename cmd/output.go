package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// SessionRecord is the JSON shape of a session in CLI output.
type SessionRecord struct {
	ID                    string     `json:"id"`
	PersonID              string     `json:"person_id"`
	PersonName            string     `json:"person_name"`
	EntryTime             time.Time  `json:"entry_time"`
	ExitTime              *time.Time `json:"exit_time,omitempty"`
	DurationSeconds       *int64     `json:"duration_seconds,omitempty"`
	RecognitionConfidence float64    `json:"recognition_confidence"`
}

func sessionRecords(sessions []database.Session) []SessionRecord {
	out := make([]SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		rec := SessionRecord{
			ID:                    s.ID,
			PersonID:              s.PersonID,
			PersonName:            s.PersonName,
			EntryTime:             s.EntryTime,
			ExitTime:              s.ExitTime,
			RecognitionConfidence: s.RecognitionConfidence,
		}
		if s.Duration != nil {
			secs := int64(s.Duration.Seconds())
			rec.DurationSeconds = &secs
		}
		out = append(out, rec)
	}
	return out
}

func printSessions(sessions []database.Session) {
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return
	}
	fmt.Printf("%-4s  %-24s  %-20s  %-20s  %s\n", "ID", "NAME", "ENTRY", "EXIT", "TIME INSIDE")
	for _, s := range sessions {
		exit, inside := "(inside)", "-"
		if s.ExitTime != nil {
			exit = s.ExitTime.Local().Format(time.DateTime)
		}
		if s.Duration != nil {
			inside = formatDuration(*s.Duration)
		}
		fmt.Printf("%-4s  %-24s  %-20s  %-20s  %s\n",
			s.PersonID, s.PersonName, s.EntryTime.Local().Format(time.DateTime), exit, inside)
	}
}
