package mock

import (
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database/storetest"
)

func TestMockStoreBehavesLikeABackend(t *testing.T) {
	storetest.Run(t, NewMockStore())
}
