package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"exam-grader/api/internal/service"
	"exam-grader/api/internal/util"
)

// telegram rejects messages over 4096 chars
const maxMessageLen = 3900

// FormatOutcome renders a grading as a Markdown message.
func FormatOutcome(out service.Outcome) string {
	res := out.Result
	var b strings.Builder
	fmt.Fprintf(&b, "📝 *Score: %s / %s*\n", num(res.TotalScore), num(res.MaxScore))
	if name := strings.TrimSpace(res.StudentName); name != "" {
		fmt.Fprintf(&b, "Student: %s\n", esc(name))
	}
	if len(res.ScoreBreakdown) > 0 {
		b.WriteString("\n*Breakdown:*\n")
		for _, it := range res.ScoreBreakdown {
			fmt.Fprintf(&b, "• %s — %s/%s\n", esc(it.Description), num(it.PointsAwarded), num(it.MaxPoints))
		}
	}
	if fb := strings.TrimSpace(res.Feedback); fb != "" {
		b.WriteString("\n*Feedback:*\n")
		b.WriteString(esc(fb))
		b.WriteString("\n")
	}
	for _, w := range out.Warnings {
		b.WriteString("\n⚠️ ")
		b.WriteString(esc(w))
	}
	return util.Truncate(b.String(), maxMessageLen)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// light escaping for legacy Markdown
func esc(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "[", "\\[")
	return s
}
