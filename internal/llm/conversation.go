package llm

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContinuePrompt is the user turn sent after a response was cut off by the
// token limit.
const ContinuePrompt = "continue"

type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Example is a one-shot demonstration injected as a user/assistant pair.
type Example struct {
	Prompt     string
	Completion string
}

// Conversation is the ordered transcript of one completion chain. The system
// turn is always first; user and assistant turns alternate after it.
type Conversation struct {
	turns []Turn
}

func NewConversation(system string) *Conversation {
	return &Conversation{turns: []Turn{{Role: RoleSystem, Text: system}}}
}

// AddExamples appends each example as a user turn followed by an assistant turn.
func (c *Conversation) AddExamples(examples []Example) {
	for _, ex := range examples {
		c.AddUser(ex.Prompt)
		c.AddAssistant(ex.Completion)
	}
}

func (c *Conversation) AddUser(text string) {
	c.turns = append(c.turns, Turn{Role: RoleUser, Text: text})
}

func (c *Conversation) AddAssistant(text string) {
	c.turns = append(c.turns, Turn{Role: RoleAssistant, Text: text})
}

// Turns returns a copy of the transcript.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}
