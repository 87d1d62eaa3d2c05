package transport

import (
	"errors"
	"fmt"
	"testing"
)

func TestInsufficientMtu(t *testing.T) {
	err := fmt.Errorf("upload chunk: %w", ErrInsufficientMtu(50))

	mtu, ok := InsufficientMtu(err)
	if !ok || mtu != 50 {
		t.Errorf("InsufficientMtu = %d, %v, want 50, true", mtu, ok)
	}
	if !IsKind(err, KindInsufficientMtu) {
		t.Error("IsKind(InsufficientMtu) = false")
	}

	if _, ok := InsufficientMtu(NewError(KindSendFailed, nil)); ok {
		t.Error("send failure reported as insufficient mtu")
	}
	if _, ok := InsufficientMtu(errors.New("plain")); ok {
		t.Error("plain error reported as insufficient mtu")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{ErrInsufficientMtu(100), "transport: insufficient mtu (mtu 100)"},
		{NewError(KindSendTimeout, nil), "transport: send timeout"},
		{NewError(KindConnectionFailed, errors.New("refused")), "transport: connection failed: refused"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("cable unplugged")
	err := NewError(KindSendFailed, cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find the cause")
	}
}

func TestResolved(t *testing.T) {
	ch := Resolved(Reply{Packet: []byte{1}})
	r := <-ch
	if len(r.Packet) != 1 || r.Err != nil {
		t.Errorf("Reply = %+v", r)
	}

	want := NewError(KindBadResponse, nil)
	if r := <-Failed(want); r.Err != want {
		t.Errorf("Failed reply error = %v", r.Err)
	}
}
