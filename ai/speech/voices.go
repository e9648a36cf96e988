package speech

// Voice names exposed to callers, mapped to backend voice IDs. The
// masculine/feminine pair mirrors the two voices the product has always
// shipped with; unknown names fall back to the default.
const (
	VoiceFeminine  = "feminine"
	VoiceMasculine = "masculine"

	// DefaultVoice is used when no voice or an unknown voice is requested.
	DefaultVoice = VoiceFeminine
)

var voiceIDs = map[string]string{
	VoiceFeminine:  "nova",
	VoiceMasculine: "onyx",
}

// ResolveVoice maps a friendly voice name to a backend voice ID.
func ResolveVoice(name string) string {
	if id, ok := voiceIDs[name]; ok {
		return id
	}
	return voiceIDs[DefaultVoice]
}
