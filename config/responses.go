package config

// Pre-authored lines used when the bot declines or fails to answer. They are
// persona text, not errors: rate-limit and completion failures surface as one
// of these instead of an operator-facing message.

// NapResponses are used when the per-minute ceiling is hit.
var NapResponses = []string{
	"Whatever, I'm taking a break",
	"Brb, choccy milk break",
	"Napping. Don't wake me unless you have choccy milk",
	"Can't talk, vibing to music rn",
	"Nah, I'm out for a bit",
}

// SleepResponses are used when the daily ceiling is hit.
var SleepResponses = []string{
	"Mom says I gotta sleep. Whatever.",
	"I'm done for today, peace",
	"That's enough social interaction for one day",
	"Calling it. See ya tomorrow I guess",
	"Done with today. Later.",
}

// ErrorResponses are used when the completion API fails or times out.
var ErrorResponses = []string{
	"Ugh, whatever. I'm not in the mood right now.",
	"Ugh, can't be bothered right now.",
	"I'm not in the mood right now.",
	"Bother me later.",
}

// IsCannedResponse reports whether text is one of the pre-authored lines above.
// Canned lines are never appended to conversation history, so the model does
// not learn to imitate its own decline messages.
func IsCannedResponse(text string) bool {
	for _, pool := range [][]string{NapResponses, SleepResponses, ErrorResponses} {
		for _, s := range pool {
			if s == text {
				return true
			}
		}
	}
	return false
}
