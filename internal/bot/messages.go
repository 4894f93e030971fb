package bot

import (
	"fmt"
	"strings"
	"time"

	"pollbot/internal/datetext"
	"pollbot/internal/poll"
)

const displayLayout = "2006/01/02 15:04"

const (
	msgNotAPoll       = "このスレッドは候補日投稿ではありません。"
	msgNoMatch        = "指定されたスタンプに対応する日時が候補にありません。"
	msgInternalError  = "エラーが発生しました。しばらくしてからもう一度お試しください。"
	msgNothingParsed  = "候補日時を読み取れませんでした。"
	msgIgnoredPrefix  = "候補にないスタンプは無視しました: "
	msgFailuresPrefix = "読み取れなかった行:"
)

// candidatesAck lists what was recorded, in message order.
func candidatesAck(userID string, res datetext.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<@%s> 候補日を記録しました！\n```\n", userID)
	for _, tag := range res.Order {
		c := res.Candidates[tag]
		fmt.Fprintf(&b, "%s: %s\n", datetext.FormatTag(tag), c.At.Format(displayLayout))
	}
	b.WriteString("```")
	if len(res.Failures) > 0 {
		b.WriteString("\n")
		b.WriteString(failureList(res.Failures))
	}
	return b.String()
}

func nothingParsed(fs []datetext.LineFailure) string {
	if len(fs) == 0 {
		return msgNothingParsed
	}
	return msgNothingParsed + "\n" + failureList(fs)
}

func failureList(fs []datetext.LineFailure) string {
	var b strings.Builder
	b.WriteString(msgFailuresPrefix)
	for _, f := range fs {
		fmt.Fprintf(&b, "\n%d行目: %s", f.Line, strings.TrimSpace(f.Text))
	}
	return b.String()
}

// decisionText renders a decision the way it is announced in the thread.
func decisionText(d poll.Decision) string {
	var b strings.Builder
	b.WriteString("日時を\n")
	if len(d.Selections) == 1 {
		sel := d.Selections[0]
		fmt.Fprintf(&b, "%s %s\nに決定しました。\n", datetext.FormatTag(sel.Tag), sel.At.Format(displayLayout))
		b.WriteString(reminderSentence(sel))
	} else {
		for _, sel := range d.Selections {
			fmt.Fprintf(&b, "%s %s （%s）\n", datetext.FormatTag(sel.Tag), sel.At.Format(displayLayout), reminderNote(sel))
		}
		b.WriteString("に決定しました。")
	}
	if len(d.Ignored) > 0 {
		tags := make([]string, len(d.Ignored))
		for i, t := range d.Ignored {
			tags[i] = datetext.FormatTag(t)
		}
		b.WriteString("\n")
		b.WriteString(msgIgnoredPrefix)
		b.WriteString(strings.Join(tags, " "))
	}
	return b.String()
}

func reminderSentence(sel poll.Selection) string {
	switch {
	case sel.Sent:
		return "リマインドは送信済みです。"
	case !sel.Armed:
		return "リマインド時刻を過ぎているため、リマインドは送信されません。"
	default:
		return sel.FireAt.Format(displayLayout) + "にリマインドします。"
	}
}

func reminderNote(sel poll.Selection) string {
	switch {
	case sel.Sent:
		return "リマインド送信済み"
	case !sel.Armed:
		return "リマインドなし"
	default:
		return "リマインド: " + sel.FireAt.Format(displayLayout)
	}
}

func formatTime(t time.Time) string { return t.Format(displayLayout) }
