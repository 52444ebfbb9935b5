package conversation

// Participant is the display information attached to messages of a given role.
type Participant struct {
	Display            string `yaml:"display" json:"display"`
	Author             Role   `yaml:"author" json:"author"`
	DefaultMessageType string `yaml:"default_message_type" json:"defaultMessageType"`
}

type Participants map[Role]Participant

// DefaultParticipants labels assistant replies as coming from Ollama.
func DefaultParticipants() Participants {
	return Participants{
		RoleUser: {
			Display:            "User",
			Author:             RoleUser,
			DefaultMessageType: "message",
		},
		RoleAssistant: {
			Display:            "Ollama",
			Author:             RoleAssistant,
			DefaultMessageType: "message",
		},
		RoleSystem: {
			Display:            "System",
			Author:             RoleSystem,
			DefaultMessageType: "message",
		},
	}
}

// DisplayFor returns the label of a role, falling back to the role name itself.
func (p Participants) DisplayFor(role Role) string {
	if participant, ok := p[role]; ok && participant.Display != "" {
		return participant.Display
	}
	return string(role)
}
