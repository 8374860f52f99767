package wire

import "testing"

func TestParseWrapped(t *testing.T) {
	text := `I'll check the weather.
<tool_call>
<tool_name>get_weather</tool_name>
<call_mode>asynchronous</call_mode>
<parameters>{"city": "Boston"}</parameters>
</tool_call>`

	calls := Parse(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	c := calls[0]
	if c.ToolName != "get_weather" {
		t.Errorf("ToolName = %q", c.ToolName)
	}
	if c.CallMode != "asynchronous" {
		t.Errorf("CallMode = %q", c.CallMode)
	}
	if c.ParseError != nil {
		t.Errorf("unexpected ParseError: %v", c.ParseError)
	}
	if string(c.Parameters) != `{"city": "Boston"}` {
		t.Errorf("Parameters = %s", c.Parameters)
	}
}

func TestParseLegacyUnwrapped(t *testing.T) {
	text := `<tool_name>calculate</tool_name><parameters>{"expr": "2+2"}</parameters>`
	calls := Parse(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].CallMode != "synchronous" {
		t.Errorf("default call mode should be synchronous, got %q", calls[0].CallMode)
	}
}

func TestParseMultipleBlocksTextualOrder(t *testing.T) {
	text := `<tool_call><tool_name>a</tool_name><parameters>{}</parameters></tool_call>
	<tool_call><tool_name>b</tool_name><parameters>{}</parameters></tool_call>`
	calls := Parse(text)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ToolName != "a" || calls[1].ToolName != "b" {
		t.Errorf("calls out of textual order: %v", calls)
	}
}

func TestParseMalformedJSON(t *testing.T) {
	text := `<tool_call><tool_name>broken</tool_name><parameters>{not json}</parameters></tool_call>`
	calls := Parse(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ParseError == nil {
		t.Fatal("expected a ParseError for malformed JSON")
	}
}

func TestHasAnyCall(t *testing.T) {
	if HasAnyCall("just some text") {
		t.Error("expected no call")
	}
	if !HasAnyCall(`<tool_name>x</tool_name><parameters>{}</parameters>`) {
		t.Error("expected a call")
	}
}

func TestRenderSessionEnd(t *testing.T) {
	if got := RenderSessionEnd(""); got != "SESSION_END" {
		t.Errorf("got %q", got)
	}
	if got := RenderSessionEnd("done"); got != "SESSION_END: done" {
		t.Errorf("got %q", got)
	}
}
