package spatial

import (
	"os"
	"testing"

	"github.com/udisondev/botcore/internal/lockorder"
)

func TestMain(m *testing.M) {
	lockorder.EnableOrderChecks(true)
	os.Exit(m.Run())
}
