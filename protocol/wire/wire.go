package wire

import (
	"fmt"
	"strings"
)

type MsgType int

const (
	Hello   MsgType = iota // Dialer introduces itself with its peer ID and version
	Welcome                // Listener accepts the connection and answers with its own ID and version
	Data                   // One opaque application payload
	Bye                    // Either side is going away, the connection closes after this
)

type Msg struct {
	Type    MsgType `json:"type"`
	Payload Payload `json:"payload,omitempty"`
}

type Payload struct {
	ID      string `json:"id,omitempty"`
	Version string `json:"version,omitempty"`
	Data    []byte `json:"data,omitempty"`
}

type Error struct {
	Expected []MsgType
	Got      MsgType
}

func (e Error) Error() string {
	var expectedMessageTypes []string
	for _, expectedType := range e.Expected {
		expectedMessageTypes = append(expectedMessageTypes, expectedType.Name())
	}
	oneOfExpected := strings.Join(expectedMessageTypes, ", ")
	return fmt.Sprintf("wrong message type, expected one of: (%s), got: (%s)", oneOfExpected, e.Got.Name())
}

func (t MsgType) Name() string {
	switch t {
	case Hello:
		return "Hello"
	case Welcome:
		return "Welcome"
	case Data:
		return "Data"
	case Bye:
		return "Bye"
	default:
		return ""
	}
}

// Expect returns an Error if got is not one of expected. An empty expected
// list accepts anything.
func Expect(got MsgType, expected ...MsgType) error {
	if len(expected) == 0 {
		return nil
	}
	for _, e := range expected {
		if e == got {
			return nil
		}
	}
	return Error{Expected: expected, Got: got}
}
