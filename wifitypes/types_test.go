package wifitypes

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"reflect"
	"testing"
	"time"
)

func TestInterfaceTypeString(t *testing.T) {
	tests := []struct {
		t InterfaceType
		s string
	}{
		{
			t: InterfaceTypeUnspecified,
			s: "unspecified",
		},
		{
			t: InterfaceTypeAdHoc,
			s: "ad-hoc",
		},
		{
			t: InterfaceTypeStation,
			s: "station",
		},
		{
			t: InterfaceTypeAP,
			s: "access point",
		},
		{
			t: InterfaceTypeAPVLAN,
			s: "access point/VLAN",
		},
		{
			t: InterfaceTypeWDS,
			s: "wireless distribution",
		},
		{
			t: InterfaceTypeMonitor,
			s: "monitor",
		},
		{
			t: InterfaceTypeMonitor + 1,
			s: "unknown(7)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.s, func(t *testing.T) {
			if want, got := tt.s, tt.t.String(); want != got {
				t.Fatalf("unexpected interface type string:\n- want: %q\n-  got: %q",
					want, got)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		name string
	}{
		{s: StateIdle, name: "idle"},
		{s: StateScanning, name: "scanning"},
		{s: StateAuthenticating, name: "authenticating"},
		{s: StateAssociated, name: "associated"},
		{s: 0, name: "unknown(0)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if want, got := tt.name, tt.s.String(); want != got {
				t.Fatalf("unexpected state string:\n- want: %q\n-  got: %q",
					want, got)
			}
		})
	}
}

func TestCommandSet(t *testing.T) {
	var s CommandSet
	s = s.Add(1, 12, 16, 63, 64)

	if want, got := []uint8{1, 12, 16, 63}, s.Commands(); !reflect.DeepEqual(want, got) {
		t.Fatalf("unexpected commands:\n- want: %v\n-  got: %v", want, got)
	}

	for _, c := range []uint8{0, 2, 64, 255} {
		if s.Has(c) {
			t.Fatalf("command %d should not be in the set", c)
		}
	}
}

func TestBSSBeaconInterval(t *testing.T) {
	b := &BSS{BeaconPeriod: 100}
	if want, got := 102400*time.Microsecond, b.BeaconInterval(); want != got {
		t.Fatalf("unexpected beacon interval:\n- want: %v\n-  got: %v", want, got)
	}
}

func TestKeyMatches(t *testing.T) {
	mac := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	tests := []struct {
		name string
		a, b Key
		ok   bool
	}{
		{
			name: "same group key",
			a:    Key{ID: 1, Type: KeyTypeGroup, Data: []byte{1}},
			b:    Key{ID: 1, Type: KeyTypeGroup},
			ok:   true,
		},
		{
			name: "different ID",
			a:    Key{ID: 1, Type: KeyTypeGroup},
			b:    Key{ID: 2, Type: KeyTypeGroup},
		},
		{
			name: "different type",
			a:    Key{ID: 0, Type: KeyTypeGroup},
			b:    Key{ID: 0, Type: KeyTypePairwise},
		},
		{
			name: "peer scoped",
			a:    Key{ID: 0, Type: KeyTypePairwise, MAC: mac},
			b:    Key{ID: 0, Type: KeyTypePairwise},
		},
		{
			name: "same peer",
			a:    Key{ID: 0, Type: KeyTypePairwise, MAC: mac},
			b:    Key{ID: 0, Type: KeyTypePairwise, MAC: append(net.HardwareAddr(nil), mac...)},
			ok:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if want, got := tt.ok, tt.a.Matches(&tt.b); want != got {
				t.Fatalf("unexpected match: want %v, got %v", want, got)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("associate: %w", &Error{Kind: KindAuthFailed, Reason: 15})

	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected auth failed, got: %v", err)
	}
	if errors.Is(err, ErrAssociationFailed) {
		t.Fatal("auth failure must not match association failure")
	}
	if want, got := KindAuthFailed, KindOf(err); want != got {
		t.Fatalf("unexpected kind: want %v, got %v", want, got)
	}
	if want, got := ErrorKind(0), KindOf(errors.New("other")); want != got {
		t.Fatalf("unexpected kind: want %v, got %v", want, got)
	}
	if want, got := "authentication failed: reason 15", errors.Unwrap(err).Error(); want != got {
		t.Fatalf("unexpected message:\n- want: %q\n-  got: %q", want, got)
	}
}

func TestErrorKindTransition(t *testing.T) {
	for k := KindMalformedAttribute; k <= KindNotFound; k++ {
		want := k == KindAuthFailed || k == KindAssociationFailed ||
			k == KindScanTimeout || k == KindScanAborted

		if got := k.Transition(); want != got {
			t.Fatalf("%v: unexpected transition: want %v, got %v", k, want, got)
		}
	}
}

func TestEventErr(t *testing.T) {
	ev := &Event{Type: EventStateChanged, State: StateIdle}
	if err := ev.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev.Status = KindAssociationFailed
	ev.Reason = 17
	var werr *Error
	if !errors.As(ev.Err(), &werr) || werr.Reason != 17 || werr.Kind != KindAssociationFailed {
		t.Fatalf("unexpected error: %v", ev.Err())
	}
}

func TestParseIEs(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		ies  []IE
		err  error
	}{
		{
			name: "empty",
		},
		{
			name: "too short",
			b:    []byte{0x00},
			err:  errInvalidIE,
		},
		{
			name: "length too long",
			b:    []byte{0x00, 0xff, 0x00},
			err:  errInvalidIE,
		},
		{
			name: "OK one",
			b:    []byte{0x00, 0x03, 'f', 'o', 'o'},
			ies: []IE{{
				ID:   0,
				Data: []byte("foo"),
			}},
		},
		{
			name: "OK three",
			b: []byte{
				0x00, 0x03, 'f', 'o', 'o',
				0x01, 0x00,
				0x02, 0x06, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66,
			},
			ies: []IE{
				{
					ID:   0,
					Data: []byte("foo"),
				},
				{
					ID:   1,
					Data: []byte{},
				},
				{
					ID:   2,
					Data: []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ies, err := ParseIEs(tt.b)

			if want, got := tt.err, err; want != got {
				t.Fatalf("unexpected error:\n- want: %v\n-  got: %v",
					want, got)
			}
			if err != nil {
				t.Logf("err: %v", err)
				return
			}

			if want, got := tt.ies, ies; !reflect.DeepEqual(want, got) {
				t.Fatalf("unexpected ies:\n- want: %v\n-  got: %v",
					want, got)
			}
		})
	}
}

func TestSSIDFromIEs(t *testing.T) {
	b := []byte{
		0x01, 0x01, 0x82,
		0x00, 0x07, 't', 'e', 's', 't', 'n', 'e', 't',
	}

	if want, got := "testnet", SSIDFromIEs(b); want != got {
		t.Fatalf("unexpected SSID: want %q, got %q", want, got)
	}
	if want, got := "", SSIDFromIEs([]byte{0x00}); want != got {
		t.Fatalf("unexpected SSID: want %q, got %q", want, got)
	}
}

func TestSSIDFromIEsRawOctets(t *testing.T) {
	ie := func(ssid []byte) []byte {
		return append([]byte{IESSID, byte(len(ssid))}, ssid...)
	}

	tests := []struct {
		name string
		b    []byte
		want string
	}{
		{
			name: "invalid UTF-8",
			b:    ie(bytes.Repeat([]byte{0xff}, 32)),
			want: string(bytes.Repeat([]byte{0xff}, 32)),
		},
		{
			name: "mixed",
			b:    ie([]byte{'a', 0xc3, 0x28, 'b'}),
			want: "a\xc3(b",
		},
		{
			name: "too long",
			b:    ie(bytes.Repeat([]byte{'x'}, 33)),
		},
		{
			name: "empty",
			b:    ie(nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SSIDFromIEs(tt.b)
			if want := tt.want; want != got {
				t.Fatalf("unexpected SSID: want %q, got %q", want, got)
			}
			if len(got) > 32 {
				t.Fatalf("SSID longer than 32 octets: %d", len(got))
			}
		})
	}
}
