package credential

import (
	"reflect"
	"testing"
)

func TestCredential_Empty(t *testing.T) {
	var nilCred Credential
	if !nilCred.Empty() {
		t.Error("nil credential should be empty")
	}
	if !(Credential{}).Empty() {
		t.Error("zero-key credential should be empty")
	}
	if (Credential{"k": "v"}).Empty() {
		t.Error("credential with a key should not be empty")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantEmpty bool
		wantErr   bool
	}{
		{name: "object", input: `{"access_token":"tok"}`},
		{name: "null", input: `null`, wantEmpty: true},
		{name: "empty object", input: `{}`, wantEmpty: true},
		{name: "string", input: `"tok"`, wantErr: true},
		{name: "garbage", input: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Decode(%s) should fail", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode(%s): %v", tt.input, err)
			}
			if got.Empty() != tt.wantEmpty {
				t.Errorf("Empty() = %v, want %v", got.Empty(), tt.wantEmpty)
			}
		})
	}
}

func TestCredential_EncodeRoundTrip(t *testing.T) {
	cred := Credential{"access_token": "tok", "workspace": map[string]any{"id": "w1"}}
	s, err := cred.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode([]byte(s))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(back, cred) {
		t.Errorf("round trip = %v, want %v", back, cred)
	}

	if _, err := (Credential{}).Encode(); err == nil {
		t.Error("encoding an empty credential should fail")
	}
}

func TestCredential_KeysAndAccessToken(t *testing.T) {
	cred := Credential{"token_type": "bearer", "access_token": "tok", "expires_in": 1800}
	if got := cred.Keys(); !reflect.DeepEqual(got, []string{"access_token", "expires_in", "token_type"}) {
		t.Errorf("Keys() = %v", got)
	}
	if got := cred.AccessToken(); got != "tok" {
		t.Errorf("AccessToken() = %q, want %q", got, "tok")
	}
	if got := (Credential{"access_token": 42}).AccessToken(); got != "" {
		t.Errorf("AccessToken() = %q, want empty for non-string", got)
	}
}
