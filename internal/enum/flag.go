package enum

type Flag string

const (
	FlagSeen      Flag = "SEEN"
	FlagAnswered  Flag = "ANSWERED"
	FlagFlagged   Flag = "FLAGGED"
	FlagDeleted   Flag = "DELETED"
	FlagDraft     Flag = "DRAFT"
	FlagRecent    Flag = "RECENT"
	FlagForwarded Flag = "FORWARDED"
)

func (f Flag) String() string {
	return string(f)
}

// HasFlag reports whether flag is contained in flags
func HasFlag(flags []Flag, flag Flag) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

// WithFlag returns flags with flag added or removed. The input slice is not modified.
func WithFlag(flags []Flag, flag Flag, set bool) []Flag {
	result := make([]Flag, 0, len(flags)+1)
	for _, f := range flags {
		if f != flag {
			result = append(result, f)
		}
	}
	if set {
		result = append(result, flag)
	}
	return result
}
