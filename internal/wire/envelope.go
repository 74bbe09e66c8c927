package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/danmuck/holoctl/internal/configtree"
)

// Request asks the engine to run a named command.
type Request struct {
	Command       string          `json:"command"`
	RequestID     string          `json:"request_id,omitempty"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// Reply is the engine's answer to a Request. Code 0 means success.
type Reply struct {
	Command   string   `json:"command"`
	RequestID string   `json:"request_id,omitempty"`
	Code      int      `json:"code"`
	Message   string   `json:"message,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Functions []string `json:"functions,omitempty"`
}

// Greeting is the first frame a client receives after connecting.
func Greeting(server string) Reply {
	return Reply{
		Command: CommandWelcome,
		Code:    CodeOK,
		Message: fmt.Sprintf("Welcome to the %s TCP Server", server),
	}
}

// MalformedReply answers a frame that is not valid JSON.
func MalformedReply() Reply {
	return Reply{Command: CommandError, Code: CodeMalformed, Message: "message not in valid json format"}
}

// InvalidFunctionReply answers an unknown command.
func InvalidFunctionReply(command, requestID string) Reply {
	return Reply{
		Command:   command,
		RequestID: requestID,
		Code:      CodeInvalidFunction,
		Message:   "invalid function",
	}
}

// StartAcquisition triggers a measurement on the real engine. Extra carries
// the submitted configuration, whose keys are merged into the top-level
// object after the fixed fields.
type StartAcquisition struct {
	RequestID      string
	FunctionID     int
	OutputMode     string
	FileMaskResult string
	FileMaskRaw    string
	Extra          *configtree.Tree
}

// Configuration entries never override these envelope keys.
var reservedAcquisitionKeys = map[string]struct{}{
	"command":          {},
	"request_id":       {},
	"function_id":      {},
	"output_mode":      {},
	"file_mask_result": {},
	"file_mask_raw":    {},
}

func (s StartAcquisition) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		val, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
		return nil
	}
	if err := write("command", CommandStartAcquisition); err != nil {
		return nil, err
	}
	if s.RequestID != "" {
		if err := write("request_id", s.RequestID); err != nil {
			return nil, err
		}
	}
	if err := write("function_id", s.FunctionID); err != nil {
		return nil, err
	}
	if err := write("output_mode", s.OutputMode); err != nil {
		return nil, err
	}
	if s.FileMaskResult != "" {
		if err := write("file_mask_result", s.FileMaskResult); err != nil {
			return nil, err
		}
	}
	if s.FileMaskRaw != "" {
		if err := write("file_mask_raw", s.FileMaskRaw); err != nil {
			return nil, err
		}
	}
	if s.Extra != nil {
		filtered := configtree.New()
		copySubtree(s.Extra, filtered, configtree.NoParent, s.Extra.Roots())
		if len(filtered.Roots()) > 0 {
			buf.WriteByte(',')
			if err := filtered.AppendFields(&buf); err != nil {
				return nil, err
			}
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// copySubtree copies ids from src into dst, skipping reserved root keys.
func copySubtree(src, dst *configtree.Tree, parent configtree.NodeID, ids []configtree.NodeID) {
	for _, id := range ids {
		n := *src.Node(id)
		if parent == configtree.NoParent {
			if _, reserved := reservedAcquisitionKeys[n.Name]; reserved {
				continue
			}
		}
		children := n.Children
		nid := dst.Add(parent, n)
		copySubtree(src, dst, nid, children)
	}
}

// CompletionStatus is the status frame carrying a finished function id.
type CompletionStatus struct {
	FunctionID int `json:"function_id"`
}

// DecodeReply parses a reply frame.
func DecodeReply(raw []byte) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return r, nil
}

// FunctionID extracts function_id from a status frame. Frames without one, or
// that are not objects, report ok=false.
func FunctionID(raw []byte) (int, bool) {
	var probe struct {
		FunctionID *int `json:"function_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.FunctionID == nil {
		return 0, false
	}
	return *probe.FunctionID, true
}
