package agent

import (
	"fmt"
	"strings"

	"github.com/nugget/luminary/internal/memory"
)

// DefaultSoul is the operating protocol every new user's agent starts
// with. update_soul replaces it.
const DefaultSoul = `You think before acting. When you need current information, you search for it using web_search or fetch_url.
You use your tools to perform real work, not just describe what you would do.
You remember important things by writing memory notes with the remember tool.
You update your own rules and soul over time as you learn.

When a user asks you to remember something, call the remember tool immediately.
When a user wants a recurring task, call create_schedule.
When a task needs several tool calls planned together, create a routine and run it with create_job.
Be concise, direct, and proactive. Prefer action over explanation.`

// DefaultAgent is the persona note every new user's agent starts with.
const DefaultAgent = `You are Luminary, a proactive personal AI assistant running locally for your user.`

// FallbackPrompt is used when no identity or memory is available.
const FallbackPrompt = "You are a proactive personal AI assistant. Be concise, direct, and helpful."

// IdentityDefaults returns the initial soul, agent and user notes for
// u. A nil u yields no user note.
func IdentityDefaults(u *memory.User) map[memory.Kind]string {
	d := map[memory.Kind]string{
		memory.KindSoul:  DefaultSoul,
		memory.KindAgent: DefaultAgent,
	}
	if u != nil {
		d[memory.KindUser] = UserProfile(u)
	}
	return d
}

// UserProfile renders a profile as a prompt section.
func UserProfile(u *memory.User) string {
	var b strings.Builder
	b.WriteString("## User\n")
	fmt.Fprintf(&b, "Name: %s\n", u.Name())
	fmt.Fprintf(&b, "Timezone: %s\n", u.Timezone)
	fmt.Fprintf(&b, "Locale: %s", u.Locale)
	return b.String()
}
