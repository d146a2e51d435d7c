package device

// InstructionType identifies a controller instruction.
type InstructionType string

// Instruction types understood by the door controllers.
const (
	// RelayOperate pulses a relay output.
	RelayOperate InstructionType = "ins_inout_relay_operate"

	// ScreenWrite replaces the reader screen with an HTML document.
	ScreenWrite InstructionType = "ins_screen_html_document_write"
)

// Instruction is one command for a controller's local HTTP API.
// It is built per side effect, sent once and discarded.
type Instruction struct {
	Type InstructionType `json:"msgType"`
	Args map[string]any  `json:"msgArg"`
}

// NewRelayOperate builds a relay pulse.
//
// Parameters:
//   - relay: Relay output number on the controller (ucRelayNum)
//   - openTime: Pulse length, sent verbatim as ucTime_ds
//   - position: Reader position tag, normally "main"
func NewRelayOperate(relay, openTime int, position string) Instruction {
	return Instruction{
		Type: RelayOperate,
		Args: map[string]any{
			"sPosition":  position,
			"ucRelayNum": relay,
			"ucTime_ds":  openTime,
		},
	}
}

// NewScreenWrite builds a screen replacement with the given markup.
func NewScreenWrite(html string) Instruction {
	return Instruction{
		Type: ScreenWrite,
		Args: map[string]any{
			"sHtml": html,
		},
	}
}
