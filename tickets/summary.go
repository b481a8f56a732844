package tickets

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Field is one named entry of a rendered ticket.
type Field struct {
	Name  string
	Value string
}

// Summary is the human-readable rendering of a ticket.
type Summary struct {
	Title     string
	Colour    int
	Fields    []Field
	Footer    string
	Timestamp time.Time
}

// Field returns the value of a named field.
func (s Summary) Field(name string) (string, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Embed converts the summary into a Discord embed.
func (s Summary) Embed() *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: s.Title,
		Color: s.Colour,
	}
	for _, f := range s.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: false,
		})
	}
	if s.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: s.Footer}
	}
	if !s.Timestamp.IsZero() {
		embed.Timestamp = s.Timestamp.UTC().Format(time.RFC3339)
	}
	return embed
}

// FormatDuration renders a duration as days, hours, minutes and seconds,
// leaving out zero units.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}
	units := []struct {
		name string
		size time.Duration
	}{
		{"day", 24 * time.Hour},
		{"hour", time.Hour},
		{"minute", time.Minute},
		{"second", time.Second},
	}
	var parts []string
	for _, u := range units {
		n := d / u.size
		if n == 0 {
			continue
		}
		d -= n * u.size
		part := strconv.FormatInt(int64(n), 10) + " " + u.name
		if n != 1 {
			part += "s"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// embedFieldLimit is the longest value an embed field accepts.
const embedFieldLimit = 1024

// mentionList renders one line per member. Lines that would overflow an embed
// field are replaced by a count.
func mentionList(ids []int64) string {
	if len(ids) == 0 {
		return "None"
	}
	more := func(n int) string { return fmt.Sprintf("\n… and %d more", n) }
	var b strings.Builder
	for i, id := range ids {
		line := fmt.Sprintf("<@%d> (`%d`)", id, id)
		if i > 0 {
			line = "\n" + line
		}
		reserve := 0
		if rest := len(ids) - i - 1; rest > 0 {
			reserve = len(more(rest))
		}
		if b.Len()+len(line)+reserve > embedFieldLimit {
			b.WriteString(more(len(ids) - i))
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
