package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "heartbeat", env: Envelope{V: Version, Type: TypeHeartbeat}},
		{name: "typing", env: Envelope{V: Version, Type: TypeTyping, Payload: json.RawMessage(`{"receiverId":"x"}`)}},
		{name: "signal", env: Envelope{V: Version, Type: TypeVideoCallICECandidate}},
		{name: "missing version", env: Envelope{Type: TypeHeartbeat}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v0", Type: TypeHeartbeat}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "outbound only", env: Envelope{V: Version, Type: TypeGetOnlineUsers}, wantErr: true},
		{name: "unknown", env: Envelope{V: Version, Type: "nope", TS: time.Now()}, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.env.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate()=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestIsSignalType(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{
		TypeVideoCallOffer,
		TypeVideoCallAnswer,
		TypeVideoCallICECandidate,
		TypeVideoCallRejected,
		TypeVideoCallEnded,
		TypeVideoCallRequestRealOffer,
		TypeVideoCallRealOffer,
		TypeVideoCallRenegotiation,
		TypeVideoCallRenegotiationReply,
	} {
		if !IsSignalType(typ) {
			t.Fatalf("IsSignalType(%q)=false", typ)
		}
	}
	if IsSignalType(TypeVideoCallFailed) {
		t.Fatalf("video-call-failed is server-originated and must not be relayed")
	}
}
