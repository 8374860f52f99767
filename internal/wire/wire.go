// Package wire parses and renders the <tool_call> wire format used to
// request tool and agent invocations from an assistant message.
package wire

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/orchestra-run/orchestra/internal/models"
)

// blockPattern matches one <tool_call> block. The <tool_call>/</tool_call>
// wrapper and the <call_mode> tag are both optional, matching the legacy
// single-block format some models still emit.
var blockPattern = regexp.MustCompile(
	`(?s)(?:<tool_call>\s*)?<tool_name>(.*?)</tool_name>\s*` +
		`(?:<call_mode>(.*?)</call_mode>\s*)?` +
		`<parameters>(.*?)</parameters>(?:\s*</tool_call>)?`,
)

// Call is one parsed tool-call directive.
type Call struct {
	ToolName   string
	CallMode   models.CallMode
	Parameters json.RawMessage
	// ParseError is set when the parameters block was not valid JSON; the
	// directive is still surfaced so the caller can report it to the
	// model, per spec.md's per-block parse-error handling.
	ParseError error
	RawBlock   string
}

// BuiltinEndSession is the name of the always-authorized session-end tool.
const BuiltinEndSession = "end_session"

// Parse extracts every <tool_call> directive from assistant text, in
// textual (left-to-right) order.
func Parse(text string) []Call {
	matches := blockPattern.FindAllStringSubmatch(text, -1)
	calls := make([]Call, 0, len(matches))
	for _, m := range matches {
		toolName := strings.TrimSpace(m[1])
		callModeRaw := strings.TrimSpace(m[2])
		paramsRaw := strings.TrimSpace(m[3])

		callMode := models.CallModeSynchronous
		if callModeRaw == string(models.CallModeAsynchronous) {
			callMode = models.CallModeAsynchronous
		}

		call := Call{
			ToolName: toolName,
			CallMode: callMode,
			RawBlock: m[0],
		}

		var normalized json.RawMessage
		if err := json.Unmarshal([]byte(paramsRaw), &normalized); err != nil {
			call.ParseError = fmt.Errorf("tool '%s' parameters are not valid JSON: %w", toolName, err)
		} else {
			call.Parameters = normalized
		}

		calls = append(calls, call)
	}
	return calls
}

// HasAnyCall reports whether text contains at least one parseable
// <tool_name> directive. The Orchestrator does not call it; it checks
// whether Parse returned any calls.
func HasAnyCall(text string) bool {
	return blockPattern.MatchString(text)
}

// SessionEndPrefix prefixes the sentinel result string end_session produces.
const SessionEndPrefix = "SESSION_END"

// RenderSessionEnd builds the end_session tool-result sentinel.
func RenderSessionEnd(finalMessage string) string {
	if finalMessage == "" {
		return SessionEndPrefix
	}
	return SessionEndPrefix + ": " + finalMessage
}
