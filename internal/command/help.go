package command

import (
	"context"
	"strings"

	"remindbot/internal/reminder"
)

func (p *Processor) builtins() []Command {
	return []Command{
		{
			Name:        "remind",
			Aliases:     []string{"remindme", "r"},
			Usage:       "remind <when>: <text>",
			Description: "remind you at a time or on a schedule",
			Handle:      p.createHandler(reminder.TargetRequester, false),
		},
		{
			Name:        "remindroom",
			Aliases:     []string{"rr"},
			Usage:       "remindroom <when>: <text>",
			Description: "remind the whole room",
			Handle:      p.createHandler(reminder.TargetRoom, false),
		},
		{
			Name:        "alarm",
			Aliases:     []string{"a"},
			Usage:       "alarm <when>: <text>",
			Description: "like remind, but keeps ringing until silenced",
			Handle:      p.createHandler(reminder.TargetRequester, true),
		},
		{
			Name:        "alarmroom",
			Aliases:     []string{"ar"},
			Usage:       "alarmroom <when>: <text>",
			Description: "an alarm for the whole room",
			Handle:      p.createHandler(reminder.TargetRoom, true),
		},
		{
			Name:        "list",
			Aliases:     []string{"l", "ls"},
			Usage:       "list",
			Description: "list reminders in this room",
			Handle:      p.list,
		},
		{
			Name:        "cancel",
			Aliases:     []string{"c", "rm", "del"},
			Usage:       "cancel <id|text>",
			Description: "cancel a reminder by id, id prefix or text",
			Handle:      p.cancel,
		},
		{
			Name:        "silence",
			Aliases:     []string{"s"},
			Usage:       "silence [text]",
			Description: "stop a ringing alarm",
			Handle:      p.silence,
		},
		{
			Name:        "help",
			Aliases:     []string{"h"},
			Usage:       "help",
			Description: "show this help",
			Handle:      p.help,
		},
	}
}

var helpExamples = []string{
	"remind in 10 minutes: check the oven",
	"remind tomorrow at 9am: call the bank",
	"remind on March 3rd at 5pm; dentist",
	"remindroom every weekday at 09:30: standup",
	"remind every month on the 15th at 9am until 2027-01-01: pay rent",
	"remind every 2 weeks; monday at 10:00; sprint review",
	"remind cron 0 18 * * 1-5: go home",
	"alarm in 30 minutes: stretch",
}

func (p *Processor) help(_ context.Context, _ *Request) (string, error) {
	cfg := p.config()
	lines := []string{"📚 Commands"}
	for _, c := range p.cmds {
		line := "• " + cfg.Prefix + c.Usage + " - " + c.Description
		if len(c.Aliases) > 0 {
			line += " (" + cfg.Prefix + strings.Join(c.Aliases, ", "+cfg.Prefix) + ")"
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Examples:")
	for _, ex := range helpExamples {
		lines = append(lines, "• "+cfg.Prefix+ex)
	}
	lines = append(lines, "", "Times are read in "+cfg.Location.String()+". Dates without a time of day, and bare hours like \"at 5\", are rejected as ambiguous.")
	return strings.Join(lines, "\n"), nil
}
