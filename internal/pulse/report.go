package pulse

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MarchanoGG/Watchdog/internal/notify"
	"github.com/MarchanoGG/Watchdog/internal/verify"
)

const (
	ColorGreen  = 0x00FF00
	ColorOrange = 0xFFA500
	ColorRed    = 0xFF0000

	// MaxDetail bounds the verification detail field.
	MaxDetail = notify.MaxFieldValue
)

// Compose builds the report for a run that reached a verdict.
func Compose(out Outcome) notify.Message {
	embed := notify.Embed{
		Title:     fmt.Sprintf("📊  WatchDog Pulse — %s", out.RunID),
		Color:     color(out),
		Timestamp: out.Finished.UTC().Format(time.RFC3339),
		Fields: []notify.Field{
			{Name: "Back-ups", Value: backupStatus(out)},
			{Name: "Verification", Value: verifyStatus(out)},
			{Name: "Size", Value: sizeSummary(out.Result.Metrics), Inline: true},
			{Name: "Duration", Value: out.Duration.Round(time.Second).String(), Inline: true},
		},
	}
	if d := detail(out.Result); d != "" {
		embed.Fields = append(embed.Fields, notify.Field{Name: "Details", Value: d})
	}
	return notify.Message{Embeds: []notify.Embed{embed}}
}

// FailureReport is sent when the run crashed before reaching a verdict.
func FailureReport(runID string, err error) notify.Message {
	return notify.Message{
		Content: notify.Truncate(fmt.Sprintf("❌ **Pulse %s failed:** ```%v```", runID, err), notify.MaxContent),
	}
}

func color(out Outcome) int {
	switch {
	case !out.BackupOK || out.Result.Overall == verify.Failed:
		return ColorRed
	case out.Result.Overall == verify.Warn:
		return ColorOrange
	default:
		return ColorGreen
	}
}

func backupStatus(out Outcome) string {
	if out.BackupOK {
		return "✅ **Back-ups Success**"
	}
	s := "❌ **Back-ups Failed**"
	if out.BackupErr != nil {
		s += "\n" + out.BackupErr.Error()
	}
	return s
}

func verifyStatus(out Outcome) string {
	r := out.Result
	counts := fmt.Sprintf("%d error(s), %d warning(s)", len(r.Errors), len(r.Warnings))
	switch {
	case !out.Verified:
		return "⏭️ **Verification Skipped**"
	case r.Overall == verify.Passed:
		return "✅ **Verification Passed**"
	case r.Overall == verify.Warn:
		return "⚠️ **Verification Warnings** (" + counts + ")"
	default:
		return "❌ **Verification Failed** (" + counts + ")"
	}
}

func sizeSummary(m verify.Metrics) string {
	return fmt.Sprintf("%d server(s), %d artifact(s), %s", m.Servers, m.Artifacts, humanize.IBytes(uint64(max(m.Bytes, 0))))
}

// detail lists errors then warnings inside a code block of at most
// MaxDetail characters.
func detail(r verify.Result) string {
	if len(r.Errors) == 0 && len(r.Warnings) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range r.Errors {
		b.WriteString("ERR  " + e + "\n")
	}
	for _, w := range r.Warnings {
		b.WriteString("WARN " + w + "\n")
	}
	const open, end = "```\n", "```"
	body := notify.Truncate(b.String(), MaxDetail-len(open)-len(end))
	return open + body + end
}
