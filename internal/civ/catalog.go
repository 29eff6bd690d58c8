package civ

import (
	"fmt"
	"strings"
	"time"
)

// Framing bytes.
const (
	ByteStart = 0xFE
	ByteStop  = 0xFD
	ByteOK    = 0xFB
	ByteNOK   = 0xFA
)

// Command bodies of the supported subset.
// Reference: ICOM CI-V reference guides for IC-7100, IC-7300, IC-9700, IC-705.
var (
	CmdFreqSend      = MustCommand(0x00)                   // frequency broadcast (transceive)
	CmdModeSend      = MustCommand(0x01)                   // modulation broadcast (transceive)
	CmdFreqRead      = MustCommand(0x03)                   // read operating frequency
	CmdModeRead      = MustCommand(0x04)                   // read modulation mode and RX filter
	CmdRFPower       = MustCommand(0x14, 0x0A)             // RF power 0000..0255
	CmdPower         = MustCommand(0x18)                   // power on/off
	CmdTransceiverID = MustCommand(0x19, 0x00)             // transceiver ID query
	CmdDate          = MustCommand(0x1A, 0x05, 0x00, 0x94) // set date (not IC-7100)
	CmdTime          = MustCommand(0x1A, 0x05, 0x00, 0x95) // set time (not IC-7100)
	CmdUTCOffset     = MustCommand(0x1A, 0x05, 0x00, 0x96) // set UTC offset (not IC-7100)

	CmdOK  = MustCommand(ByteOK)
	CmdNOK = MustCommand(ByteNOK)
)

// Fixed data fields.
var (
	DataNone = Data{}
	DataOn   = MustData(0x01)
	DataOff  = MustData(0x00)
)

// Model identifies a radio type.
type Model uint8

const (
	ModelIC7100 Model = iota
	ModelIC7300
	ModelIC9700
	ModelIC705
	ModelNone
)

type modelInfo struct {
	name     string
	addr     Address
	bootTime time.Duration
}

var models = map[Model]modelInfo{
	ModelIC7100: {name: "IC-7100", addr: AddrIC7100, bootTime: 5000 * time.Millisecond},
	ModelIC7300: {name: "IC-7300", addr: AddrIC7300, bootTime: 5000 * time.Millisecond},
	ModelIC9700: {name: "IC-9700", addr: AddrIC9700, bootTime: 6500 * time.Millisecond},
	ModelIC705:  {name: "IC-705", addr: AddrIC705, bootTime: 4000 * time.Millisecond},
}

func (m Model) String() string {
	if info, ok := models[m]; ok {
		return info.name
	}
	return "none"
}

func (m Model) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Model) UnmarshalText(b []byte) error {
	v, err := ParseModel(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// DefaultAddress returns the factory CI-V address of the model.
func (m Model) DefaultAddress() Address {
	if info, ok := models[m]; ok {
		return info.addr
	}
	return AddrNone
}

// BootTime is how long the radio needs after a power-on command before it
// answers on the bus.
func (m Model) BootTime() time.Duration {
	return models[m].bootTime
}

// HasClock reports whether the model takes the 1A 05 date and time settings.
func (m Model) HasClock() bool {
	switch m {
	case ModelIC7300, ModelIC9700, ModelIC705:
		return true
	}
	return false
}

// ParseModel accepts "IC-7300", "ic7300", "7300" and similar spellings.
func ParseModel(s string) (Model, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.TrimPrefix(strings.ReplaceAll(key, "-", ""), "IC")
	for m, info := range models {
		if strings.TrimPrefix(strings.ReplaceAll(info.name, "-", ""), "IC") == key {
			return m, nil
		}
	}
	return ModelNone, fmt.Errorf("civ: unknown model %q", s)
}

// Mode is the operating profile a sequence switches the radio to.
type Mode uint8

const (
	ModeUndefined Mode = iota
	ModeVoice
	ModeData
)

func (m Mode) String() string {
	switch m {
	case ModeVoice:
		return "voice"
	case ModeData:
		return "data"
	default:
		return "undefined"
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ParseMode parses "voice" or "data".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "voice":
		return ModeVoice, nil
	case "data":
		return ModeData, nil
	}
	return ModeUndefined, fmt.Errorf("civ: unknown mode %q", s)
}

// Step is one command of a mode-change sequence.
type Step struct {
	Cmd  Command
	Data Data
}

func (s Step) String() string {
	if s.Data.Empty() {
		return s.Cmd.String()
	}
	return s.Cmd.String() + "." + s.Data.String()
}

// step splits the bytes that follow the frame header into command and data.
func step(body ...byte) Step {
	cmd, data, err := SplitBody(body)
	if err != nil {
		panic(err)
	}
	return Step{Cmd: cmd, Data: data}
}

// IC-7100.
var (
	dataMode7100 = []Step{
		step(0x06, 0x01, 0x01),             // mod USB, RX filter FIL1
		step(0x16, 0x56, 0x00),             // RX filter sharp
		step(0x16, 0x58, 0x00),             // TX filter wide
		step(0x16, 0x44, 0x00),             // compressor off
		step(0x16, 0x40, 0x00),             // noise reduction off
		step(0x16, 0x22, 0x00),             // noise blanker off
		step(0x16, 0x41, 0x00),             // auto notch off
		step(0x1A, 0x05, 0x00, 0x90, 0x03), // mod source in data-off mode: USB
		step(0x14, 0x0A, 0x00, 0x77),       // RF power 30%
	}
	voiceMode7100 = []Step{
		step(0x06, 0x01, 0x02),             // mod USB, RX filter FIL2
		step(0x16, 0x56, 0x01),             // RX filter soft
		step(0x16, 0x58, 0x01),             // TX filter mid
		step(0x16, 0x44, 0x01),             // compressor on
		step(0x16, 0x40, 0x01),             // noise reduction on
		step(0x1A, 0x05, 0x00, 0x90, 0x02), // mod source in data-off mode: MIC,ACC
		step(0x14, 0x0A, 0x02, 0x55),       // RF power 100%
	}
)

// IC-7300, also used for the IC-705.
var (
	dataMode7300 = []Step{
		step(0x26, 0x00, 0x01, 0x01, 0x01), // selected VFO: USB, data on, FIL1
		step(0x16, 0x56, 0x00),
		step(0x16, 0x58, 0x00),
		step(0x16, 0x44, 0x00),
		step(0x16, 0x40, 0x00),
		step(0x16, 0x22, 0x00),
		step(0x16, 0x41, 0x00),
		step(0x14, 0x0A, 0x00, 0x77),
	}
	voiceMode7300 = []Step{
		step(0x26, 0x00, 0x01, 0x00, 0x02), // selected VFO: USB, data off, FIL2
		step(0x16, 0x56, 0x01),
		step(0x16, 0x58, 0x01),
		step(0x16, 0x44, 0x01),
		step(0x16, 0x40, 0x01),
		step(0x1A, 0x05, 0x00, 0x66, 0x00), // mod source in data-off mode: MIC
		step(0x14, 0x0A, 0x02, 0x55),
	}
)

// IC-9700. RF power is left alone.
var (
	dataMode9700 = []Step{
		step(0x07, 0x00), // VFO A
		step(0x26, 0x00, 0x01, 0x01, 0x01),
		step(0x16, 0x56, 0x00),
		step(0x16, 0x58, 0x00),
		step(0x16, 0x44, 0x00),
		step(0x16, 0x40, 0x00),
		step(0x16, 0x22, 0x00),
		step(0x16, 0x41, 0x00),
	}
	voiceMode9700 = []Step{
		step(0x07, 0x00),
		step(0x26, 0x00, 0x01, 0x00, 0x02),
		step(0x16, 0x56, 0x01),
		step(0x16, 0x58, 0x01),
		step(0x08),             // memory mode
		step(0x08, 0x01, 0x06), // call channel C1
	}
)

type sequenceKey struct {
	model Model
	mode  Mode
}

var sequences = map[sequenceKey][]Step{
	{ModelIC7100, ModeData}:  dataMode7100,
	{ModelIC7100, ModeVoice}: voiceMode7100,
	{ModelIC7300, ModeData}:  dataMode7300,
	{ModelIC7300, ModeVoice}: voiceMode7300,
	{ModelIC9700, ModeData}:  dataMode9700,
	{ModelIC9700, ModeVoice}: voiceMode9700,
	{ModelIC705, ModeData}:   dataMode7300,
	{ModelIC705, ModeVoice}:  voiceMode7300,
}

// Sequence returns a copy of the command sequence that switches model to mode.
func Sequence(model Model, mode Mode) ([]Step, bool) {
	seq, ok := sequences[sequenceKey{model, mode}]
	if !ok {
		return nil, false
	}
	out := make([]Step, len(seq))
	copy(out, seq)
	return out, true
}
