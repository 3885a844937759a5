//go:build !linux
// +build !linux

package wifictl

import (
	"context"
	"testing"

	"github.com/mdlayher/wifictl/wifitypes"
)

func TestOthers_clientUnimplemented(t *testing.T) {
	c := &client{}
	want := errUnimplemented

	if _, got := newClient(DefaultSocketPath); want != got {
		t.Fatalf("unexpected error during newClient:\n- want: %v\n-  got: %v",
			want, got)
	}

	if _, got := c.Wiphys(); want != got {
		t.Fatalf("unexpected error during c.Wiphys\n- want: %v\n-  got: %v",
			want, got)
	}

	if _, got := c.Interfaces(); want != got {
		t.Fatalf("unexpected error during c.Interfaces\n- want: %v\n-  got: %v",
			want, got)
	}

	if _, got := c.Scan(context.Background(), nil, wifitypes.ScanRequest{}); want != got {
		t.Fatalf("unexpected error during c.Scan\n- want: %v\n-  got: %v",
			want, got)
	}

	if got := c.Watch(context.Background(), nil); want != got {
		t.Fatalf("unexpected error during c.Watch\n- want: %v\n-  got: %v",
			want, got)
	}

	if got := c.Close(); want != got {
		t.Fatalf("unexpected error during c.Close:\n- want: %v\n-  got: %v",
			want, got)
	}
}
