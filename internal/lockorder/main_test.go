package lockorder

import (
	"os"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	ConfigureDeadlockDetection(DeadlockOptions{Enabled: true, Timeout: 5 * time.Second})
	os.Exit(m.Run())
}
