package domain

import "testing"

func TestMintAddressValidate(t *testing.T) {
	cases := []struct {
		name    string
		addr    MintAddress
		wantErr bool
	}{
		{"valid 32 byte mint", MintAddress("So11111111111111111111111111111111111111112"), false},
		{"empty", MintAddress(""), true},
		{"not base58", MintAddress("not-base58!!!"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.addr.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestSignatureValidate(t *testing.T) {
	if err := Signature("").Validate(); err == nil {
		t.Fatal("expected error for empty signature")
	}
	if err := Signature("3Zx9").Validate(); err != nil {
		t.Fatalf("unexpected error for valid base58 signature: %v", err)
	}
}
