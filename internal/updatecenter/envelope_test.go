package updatecenter

import "testing"

func TestExtractJSONP(t *testing.T) {
	body := `updateCenter.post(
{"id":"default","plugins":{}}
);`
	got, err := extractJSONP(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"id":"default","plugins":{}}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONP_Malformed(t *testing.T) {
	if _, err := extractJSONP("no braces here"); err == nil {
		t.Fatal("expected MalformedEnvelope")
	}
	if _, err := extractJSONP("}{ reversed"); err == nil {
		t.Fatal("expected MalformedEnvelope for out-of-order braces")
	}
}

func TestExtractPostMessage(t *testing.T) {
	inner := `{"id":"default"}`
	body := "<html>" + postMessagePreamble + inner + postMessageSuffix + "</html>"
	got, err := extractPostMessage(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != inner {
		t.Errorf("got %q, want %q", got, inner)
	}
}

func TestExtractPostMessage_TrimsWhitespace(t *testing.T) {
	inner := "  \n{\"id\":\"default\"}\n  "
	body := postMessagePreamble + inner + postMessageSuffix
	got, err := extractPostMessage(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"id":"default"}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractPostMessage_Malformed(t *testing.T) {
	if _, err := extractPostMessage("no envelope here"); err == nil {
		t.Fatal("expected MalformedEnvelope")
	}
	if _, err := extractPostMessage(postMessagePreamble + "{}"); err == nil {
		t.Fatal("expected MalformedEnvelope when suffix missing")
	}
}

func TestExtractMetadataJSON_PrefersPostMessage(t *testing.T) {
	inner := `{"id":"default"}`
	body := postMessagePreamble + inner + postMessageSuffix
	got, err := extractMetadataJSON(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != inner {
		t.Errorf("got %q", got)
	}
}

func TestExtractMetadataJSON_FallsBackToJSONP(t *testing.T) {
	body := `callback({"id":"default"});`
	got, err := extractMetadataJSON(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"id":"default"}` {
		t.Errorf("got %q", got)
	}
}
