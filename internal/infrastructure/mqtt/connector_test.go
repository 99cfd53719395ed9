package mqtt

import (
	"errors"
	"testing"

	"github.com/devilrob/felshare-cloud/internal/cloud"
)

func TestTopics(t *testing.T) {
	if got := DeviceRxd("abc123"); got != "/device/rxd/abc123" {
		t.Errorf("DeviceRxd = %q", got)
	}
	if got := DeviceTxd("abc123"); got != "/device/txd/abc123" {
		t.Errorf("DeviceTxd = %q", got)
	}
}

func TestClassifyAuthFailures(t *testing.T) {
	for _, msg := range []string{
		"bad user name or password",
		"connection refused: not authorized",
	} {
		err := classify(errors.New(msg))
		if !errors.Is(err, cloud.ErrBrokerAuth) {
			t.Errorf("classify(%q) = %v, want ErrBrokerAuth", msg, err)
		}
	}
}

func TestClassifyTransportFailures(t *testing.T) {
	err := classify(errors.New("EOF"))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("classify(EOF) = %v, want ErrConnectionFailed", err)
	}
	if errors.Is(err, cloud.ErrBrokerAuth) {
		t.Error("transport failure classified as auth")
	}
	if classify(nil) != nil {
		t.Error("classify(nil) != nil")
	}
}
