package protocol

import (
	"fmt"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestTransform(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("a"),
		[]byte(ProbeText),
		{0x00, 0xff, 0x10, 0x7f},
	}

	for _, p := range payloads {
		for n := 0; n <= len(p); n++ {
			got := Transform(p, n)
			want := append(append([]byte{}, p[:n]...), p[:n]...)
			if len(got) != 2*n {
				t.Fatalf("Transform(%q, %d) length = %d, want %d", p, n, len(got), 2*n)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("Transform(%q, %d) mismatch (-want +got):\n%s", p, n, diff)
			}
		}
	}
}

func TestTransformDoesNotAlias(t *testing.T) {
	buf := []byte(ProbeText)
	out := Transform(buf, len(buf))
	buf[0] = 'X'
	if string(out) != EchoText {
		t.Fatalf("output changed with input: %q", out)
	}
}

func TestTransformClampsLength(t *testing.T) {
	if got := Transform([]byte("ab"), 5); string(got) != "abab" {
		t.Fatalf("got %q", got)
	}
	if got := Transform([]byte("ab"), -1); len(got) != 0 {
		t.Fatalf("got %q", got)
	}
}

func TestProbeEcho(t *testing.T) {
	if string(Transform(Probe(), ProbeSize)) != EchoText {
		t.Fatal("probe does not transform into echo frame")
	}
	if EchoSize != 2*ProbeSize {
		t.Fatalf("EchoSize = %d", EchoSize)
	}
}

func TestVerify(t *testing.T) {
	if err := Verify([]byte("proto!proto!")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, reply := range []string{"wrong!wrong!", "proto!", "proto!proto!!", ""} {
		err := Verify([]byte(reply))
		if !IsViolation(err) {
			t.Fatalf("Verify(%q) = %v, want violation", reply, err)
		}
		var v *ViolationError
		if !errors.As(err, &v) || string(v.Got) != reply {
			t.Fatalf("Verify(%q) violation carries %q", reply, v.Got)
		}
	}
}

func TestParseTransport(t *testing.T) {
	cases := map[string]Transport{
		"udp": UDP,
		"tcp": TCP,
		"":    TCP,
		"UDP": TCP,
		"foo": TCP,
	}
	for in, want := range cases {
		if got := ParseTransport(in); got != want {
			t.Errorf("ParseTransport(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestResolveAddr(t *testing.T) {
	if _, err := ResolveAddr(TCP, "127.0.0.1:4080"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ResolveAddr(UDP, "[::1]:0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, bad := range []string{"127.0.0.1", "127.0.0.1:notaport", "[::1:80"} {
		_, err := ResolveAddr(TCP, bad)
		if !IsAddress(err) {
			t.Errorf("ResolveAddr(%q) = %v, want address error", bad, err)
		}
	}
}

func TestKindOf(t *testing.T) {
	transport := NewTransportError("read", io.ErrUnexpectedEOF)

	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindUnknown},
		{io.EOF, KindUnknown},
		{transport, KindTransport},
		{fmt.Errorf("iteration 3: %w", transport), KindTransport},
		{errors.Wrap(Verify(nil), "iteration 1"), KindProtocol},
		{NewAddressError("x", io.EOF), KindAddress},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v) = %s, want %s", c.err, got, c.want)
		}
	}

	if !errors.Is(transport, io.ErrUnexpectedEOF) {
		t.Fatal("transport error lost its cause")
	}
	if NewTransportError("write", nil) != nil {
		t.Fatal("nil cause should stay nil")
	}
}
