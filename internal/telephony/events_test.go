package telephony

import "testing"

func TestNormalize_AllKnownTypes(t *testing.T) {
	cases := map[string]EventKind{
		"Microsoft.Communication.CallConnected":          EventCallConnected,
		"Microsoft.Communication.CallDisconnected":       EventCallDisconnected,
		"Microsoft.Communication.RecognizeCompleted":     EventRecognizeCompleted,
		"Microsoft.Communication.RecognizeFailed":        EventRecognizeFailed,
		"Microsoft.Communication.PlayCompleted":          EventPlayCompleted,
		"Microsoft.Communication.PlayFailed":             EventPlayFailed,
		"Microsoft.Communication.SendDtmfTonesCompleted": EventDtmfCompleted,
		"Microsoft.Communication.SendDtmfTonesFailed":    EventDtmfFailed,
		"Twilio.Voice.CallConnected":                     EventCallConnected,
	}
	for typ, want := range cases {
		ev, ok := Normalize(RawEvent{Type: typ})
		if !ok {
			t.Fatalf("expected %s to normalize", typ)
		}
		if ev.Kind != want {
			t.Fatalf("%s: got %s, want %s", typ, ev.Kind, want)
		}
	}
}

func TestNormalize_UnknownType(t *testing.T) {
	for _, typ := range []string{"", "Microsoft.Communication.ParticipantsUpdated", "garbage"} {
		if _, ok := Normalize(RawEvent{Type: typ}); ok {
			t.Fatalf("expected %q to be unrecognized", typ)
		}
	}
}

func TestNormalize_RecognizeCompletedTranscription(t *testing.T) {
	ev, ok := Normalize(RawEvent{
		ID:   "evt-1",
		Type: "Microsoft.Communication.RecognizeCompleted",
		Data: map[string]any{
			"callConnectionId": "conn-1",
			"speechResult":     map[string]any{"speech": " Press 1 for sales "},
		},
	})
	if !ok {
		t.Fatalf("expected recognized event")
	}
	if ev.Transcription != "Press 1 for sales" {
		t.Fatalf("unexpected transcription %q", ev.Transcription)
	}
	if ev.ConnectionID != "conn-1" || ev.ID != "evt-1" {
		t.Fatalf("unexpected ids %+v", ev)
	}
}

func TestNormalize_TextFieldAndLooseTyping(t *testing.T) {
	ev, ok := Normalize(RawEvent{
		Type: "Microsoft.Communication.RecognizeCompleted",
		Data: map[string]any{
			"CallConnectionID":  "conn-2",
			"speechResult":      map[string]any{"text": "Please say your name"},
			"resultInformation": map[string]any{"code": "200", "message": "ok"},
		},
	})
	if !ok {
		t.Fatalf("expected recognized event")
	}
	if ev.Transcription != "Please say your name" || ev.ConnectionID != "conn-2" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestNormalize_MalformedDataStillYieldsKind(t *testing.T) {
	ev, ok := Normalize(RawEvent{
		Type: "Microsoft.Communication.RecognizeCompleted",
		Data: map[string]any{"speechResult": "not-an-object"},
	})
	if !ok || ev.Kind != EventRecognizeCompleted {
		t.Fatalf("expected recognize completed, got %+v %v", ev, ok)
	}
	if ev.Transcription != "" {
		t.Fatalf("expected empty transcription")
	}
}

func TestTypeName(t *testing.T) {
	if TypeName(EventDtmfFailed) != "SendDtmfTonesFailed" {
		t.Fatalf("unexpected type name")
	}
	if TypeName(EventUnknown) != "" {
		t.Fatalf("expected empty name for unknown")
	}
}
