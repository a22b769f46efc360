package session

import (
	"errors"
	"testing"
)

const sampleAdvert = "BAX ROUTER\r\nNETBIOS NAME: WIFIBAX\r\nNEXT SESSION: 12345\r\nMY IP: 192.168.1.50\r\nMY MAC: 00-04-A3-12-34-56\r\n"

func TestParseAdvertisement(t *testing.T) {
	adv, err := ParseAdvertisement([]byte(sampleAdvert))
	if err != nil {
		t.Fatal(err)
	}
	if adv.NetBIOSName != "WIFIBAX" {
		t.Errorf("NetBIOSName = %q, want WIFIBAX", adv.NetBIOSName)
	}
	if adv.NextSession != 12345 {
		t.Errorf("NextSession = %d, want 12345", adv.NextSession)
	}
	if adv.IP != "192.168.1.50" {
		t.Errorf("IP = %q, want 192.168.1.50", adv.IP)
	}
	if adv.MAC != 0x0004A3123456 {
		t.Errorf("MAC = %012X, want 0004A3123456", adv.MAC)
	}
}

func TestParseAdvertisementMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"wrong header", "BAX ROUTE\r\nNETBIOS NAME: X\r\nNEXT SESSION: 1\r\nMY IP: 1.2.3.4\r\nMY MAC: 00-00-00-00-00-01"},
		{"fields out of order", "BAX ROUTER\r\nNEXT SESSION: 1\r\nNETBIOS NAME: X\r\nMY IP: 1.2.3.4\r\nMY MAC: 00-00-00-00-00-01"},
		{"missing ip", "BAX ROUTER\r\nNETBIOS NAME: X\r\nNEXT SESSION: 1\r\nMY MAC: 00-00-00-00-00-01"},
		{"truncated after name", "BAX ROUTER\r\nNETBIOS NAME: X"},
		{"bad mac", "BAX ROUTER\r\nNETBIOS NAME: X\r\nNEXT SESSION: 1\r\nMY IP: 1.2.3.4\r\nMY MAC: 00-00-ZZ-00-00-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAdvertisement([]byte(tt.input)); err == nil {
				t.Errorf("ParseAdvertisement(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestParseAdvertisementBadMAC(t *testing.T) {
	adv, err := ParseAdvertisement([]byte("BAX ROUTER\r\nNETBIOS NAME: X\r\nNEXT SESSION: 4\r\nMY IP: 1.2.3.4\r\nMY MAC: unknown"))
	if !errors.Is(err, ErrAdvertMAC) {
		t.Fatalf("err = %v, want ErrAdvertMAC", err)
	}
	if adv.NetBIOSName != "X" || adv.NextSession != 4 || adv.IP != "1.2.3.4" || adv.MAC != 0 {
		t.Errorf("advertisement = %+v", adv)
	}
}

func TestParseMAC(t *testing.T) {
	tests := []struct {
		input   string
		want    uint64
		wantErr bool
	}{
		{"00-04-A3-12-34-56", 0x0004A3123456, false},
		{"00:04:a3:12:34:56", 0x0004A3123456, false},
		{"FF FF FF FF FF FF", 0xFFFFFFFFFFFF, false},
		{"00-04-A3-12-34", 0, true},
		{"00-04-A3-12-34-5G", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMAC(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMAC(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMAC(%q) = %012X, want %012X", tt.input, got, tt.want)
		}
	}
	if s := FormatMAC(0x0004A3123456); s != "00-04-A3-12-34-56" {
		t.Errorf("FormatMAC = %q", s)
	}
}

func TestPetitionRoundTrip(t *testing.T) {
	p := Petition{Lease: 3600, MAC: 0x0004A3123456, Username: "user", Password: "secret", NextSession: 77}
	b, err := p.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != PetitionSize {
		t.Fatalf("len = %d, want %d", len(b), PetitionSize)
	}
	if b[0] != 0x10 || b[1] != 0x0E || b[4] != 0x00 || b[6] != 0xA3 || b[9] != 0x56 || b[42] != 77 {
		t.Errorf("petition = % X", b)
	}
	if string(b[10:14]) != "user" || b[14] != 0 || string(b[26:32]) != "secret" {
		t.Errorf("credentials = % X", b[10:42])
	}
	var got Petition
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Errorf("round trip = %+v, want %+v", got, p)
	}

	if err := got.UnmarshalBinary(b[:PetitionSize-1]); err == nil {
		t.Error("short petition accepted")
	}

	long := Petition{Username: "a-username-longer-than-sixteen"}
	b, _ = long.MarshalBinary()
	got.UnmarshalBinary(b)
	if got.Username != "a-username-longer-than-sixteen"[:CredentialSize] {
		t.Errorf("Username = %q", got.Username)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		input   string
		want    Response
		wantErr bool
	}{
		{"BAD CREDENTIALS: NEXT SESSION 42", Response{Kind: BadCredentials, NextSession: 42}, false},
		{"WELCOME: NEXT SESSION 43:1800", Response{Kind: Welcome, NextSession: 43, Lease: 1800}, false},
		{"WELCOME: NEXT SESSION 43:1800\r\n", Response{Kind: Welcome, NextSession: 43, Lease: 1800}, false},
		{"WELCOME: NEXT SESSION 43", Response{}, true},
		{"WELCOME: NEXT SESSION 43:", Response{}, true},
		{"HELLO", Response{}, true},
	}
	for _, tt := range tests {
		got, err := ParseResponse([]byte(tt.input))
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseResponse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseResponse(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}
